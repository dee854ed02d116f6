package services

import (
	"context"
	"errors"
	"testing"

	"github.com/classbuddy/ClassBuddyBack/internal/models"
)

var (
	alice = models.User{ID: 1, Name: "Alice", Email: "alice@example.com"}
	bob   = models.User{ID: 2, Name: "Bob", Email: "bob@example.com"}
	carol = models.User{ID: 3, Name: "Carol", Email: "carol@example.com"}
)

func newTestConversationService(chat *memoryChat) *ConversationService {
	return NewConversationService(chat, memoryDeletions{chat}, memoryUsers{chat})
}

func TestConversationServiceGetOrCreateCreatesOnce(t *testing.T) {
	chat := newMemoryChat(alice, bob)
	service := newTestConversationService(chat)
	ctx := context.Background()

	first, created, err := service.GetOrCreate(ctx, alice.ID, " bob@example.com ")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Fatalf("expected first call to create a conversation")
	}
	if len(first.Participants) != 2 {
		t.Fatalf("expected participant profiles, got %+v", first.Participants)
	}
	if _, ok := first.Projection().(*models.ConversationPreview); !ok {
		t.Fatalf("expected reduced projection for an empty conversation")
	}

	second, created, err := service.GetOrCreate(ctx, bob.ID, alice.Email)
	if err != nil {
		t.Fatalf("GetOrCreate reverse: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing conversation %d, got %d created=%v", first.ID, second.ID, created)
	}
	if chat.createCalls != 1 {
		t.Fatalf("expected one insert, got %d", chat.createCalls)
	}
}

func TestConversationServiceGetOrCreateValidates(t *testing.T) {
	chat := newMemoryChat(alice, bob)
	service := newTestConversationService(chat)
	ctx := context.Background()

	if _, _, err := service.GetOrCreate(ctx, alice.ID, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty email, got %v", err)
	}
	if _, _, err := service.GetOrCreate(ctx, alice.ID, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown email, got %v", err)
	}
	if _, _, err := service.GetOrCreate(ctx, alice.ID, alice.Email); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation for self conversation, got %v", err)
	}
}

func TestConversationServiceGetOrCreateReusesSoftDeleted(t *testing.T) {
	chat := newMemoryChat(alice, bob)
	service := newTestConversationService(chat)
	ctx := context.Background()

	existing := chat.addConversation(alice.ID, bob.ID)
	if err := service.SoftDelete(ctx, alice.ID, existing.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	summary, created, err := service.GetOrCreate(ctx, alice.ID, bob.Email)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if created || summary.ID != existing.ID {
		t.Fatalf("expected reuse of %d, got %d created=%v", existing.ID, summary.ID, created)
	}
	if chat.deletions[deletionKey{existing.ID, alice.ID}] {
		t.Fatalf("expected alice's deletion mark to be cleared")
	}

	list, err := service.List(ctx, bob.ID)
	if err != nil {
		t.Fatalf("List bob: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected bob to still see the conversation, got %d", len(list))
	}
}

func TestConversationServiceSoftDeleteHidesOnlyForActor(t *testing.T) {
	chat := newMemoryChat(alice, bob, carol)
	service := newTestConversationService(chat)
	ctx := context.Background()

	conversation := chat.addConversation(alice.ID, bob.ID)

	for i := 0; i < 2; i++ {
		if err := service.SoftDelete(ctx, alice.ID, conversation.ID); err != nil {
			t.Fatalf("SoftDelete #%d: %v", i+1, err)
		}
	}
	if len(chat.deletions) != 1 {
		t.Fatalf("expected a single deletion mark, got %d", len(chat.deletions))
	}

	aliceList, _ := service.List(ctx, alice.ID)
	bobList, _ := service.List(ctx, bob.ID)
	if len(aliceList) != 0 || len(bobList) != 1 {
		t.Fatalf("expected alice 0 and bob 1 conversations, got %d and %d", len(aliceList), len(bobList))
	}

	if _, err := service.Get(ctx, alice.ID, conversation.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected soft-deleted conversation to look missing, got %v", err)
	}
	if err := service.SoftDelete(ctx, carol.ID, conversation.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for outsider, got %v", err)
	}
	if err := service.SoftDelete(ctx, alice.ID, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown conversation, got %v", err)
	}
}

func TestConversationServiceParticipants(t *testing.T) {
	chat := newMemoryChat(alice, bob, carol)
	service := newTestConversationService(chat)
	ctx := context.Background()

	conversation := chat.addConversation(alice.ID, bob.ID)

	summary, err := service.AddParticipant(ctx, alice.ID, conversation.ID, ParticipantChange{UserID: carol.ID})
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if len(summary.ParticipantIDs) != 3 {
		t.Fatalf("expected three participants, got %v", summary.ParticipantIDs)
	}

	if _, err := service.AddParticipant(ctx, alice.ID, conversation.ID, ParticipantChange{UserID: carol.ID}); err != nil {
		t.Fatalf("re-adding participant should be a no-op, got %v", err)
	}
	if _, err := service.AddParticipant(ctx, alice.ID, conversation.ID, ParticipantChange{UserID: 404}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	if err := service.RemoveParticipant(ctx, carol.ID, conversation.ID, ParticipantChange{UserID: carol.ID}); err != nil {
		t.Fatalf("RemoveParticipant self: %v", err)
	}
	if err := service.RemoveParticipant(ctx, carol.ID, conversation.ID, ParticipantChange{UserID: alice.ID}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected removed user to be forbidden, got %v", err)
	}
	if err := service.RemoveParticipant(ctx, alice.ID, conversation.ID, ParticipantChange{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation without user_id, got %v", err)
	}
}

func TestConversationServiceListOnlyIncludesParticipantConversations(t *testing.T) {
	chat := newMemoryChat(alice, bob, carol)
	service := newTestConversationService(chat)
	ctx := context.Background()

	chat.addConversation(alice.ID, bob.ID)
	chat.addConversation(bob.ID, carol.ID)

	list, err := service.List(ctx, alice.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || !containsID(list[0].ParticipantIDs, alice.ID) {
		t.Fatalf("expected only alice's conversation, got %+v", list)
	}
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func TestConversationServiceCheckParticipant(t *testing.T) {
	chat := newMemoryChat(alice, bob, carol)
	service := newTestConversationService(chat)
	ctx := context.Background()

	conversation := chat.addConversation(alice.ID, bob.ID)

	if err := service.CheckParticipant(ctx, bob.ID, conversation.ID); err != nil {
		t.Fatalf("expected bob to be a participant, got %v", err)
	}
	if err := service.CheckParticipant(ctx, carol.ID, conversation.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for carol, got %v", err)
	}
	if err := service.CheckParticipant(ctx, alice.ID, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown conversation, got %v", err)
	}
}
