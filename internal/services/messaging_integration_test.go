package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/classbuddy/ClassBuddyBack/internal/models"
	"github.com/classbuddy/ClassBuddyBack/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

type integrationServices struct {
	conversations *ConversationService
	messages      *MessageService
	publisher     *recordingPublisher
}

func TestMessagingFlowAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	svc := newIntegrationServices(pool)

	first := createTestUser(t, ctx, pool, "first")
	second := createTestUser(t, ctx, pool, "second")
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, first.ID, second.ID) })

	summary, created, err := svc.conversations.GetOrCreate(ctx, first.ID, second.Email)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Fatalf("expected a new conversation")
	}

	again, created, err := svc.conversations.GetOrCreate(ctx, second.ID, first.Email)
	if err != nil {
		t.Fatalf("GetOrCreate from the other side: %v", err)
	}
	if created || again.ID != summary.ID {
		t.Fatalf("expected conversation %d to be reused, got %d created=%v", summary.ID, again.ID, created)
	}

	for _, content := range []string{"Hello 100% ready", "Second message"} {
		if _, err := svc.messages.Send(ctx, first.ID, summary.ID, SendMessageInput{Content: content}); err != nil {
			t.Fatalf("Send(%q): %v", content, err)
		}
	}

	messages, err := svc.messages.List(ctx, second.ID, summary.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(messages) != 2 || messages[0].Content != "Hello 100% ready" || messages[1].Content != "Second message" {
		t.Fatalf("expected both messages in send order, got %+v", messages)
	}
	if len(svc.publisher.messages) != 2 {
		t.Fatalf("expected 2 published messages, got %d", len(svc.publisher.messages))
	}

	unread, err := svc.messages.UnreadCount(ctx, second.ID)
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if unread != 2 {
		t.Fatalf("expected 2 unread, got %d", unread)
	}

	updated, err := svc.messages.MarkConversationRead(ctx, second.ID, summary.ID)
	if err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 messages marked read, got %d", updated)
	}
	if updated, err = svc.messages.MarkConversationRead(ctx, second.ID, summary.ID); err != nil || updated != 0 {
		t.Fatalf("expected repeat mark-read to change nothing, got %d %v", updated, err)
	}

	results, err := svc.messages.Search(ctx, second.ID, summary.ID, "100%")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].Content, "100%") {
		t.Fatalf("expected literal percent match, got %+v", results)
	}

	if err := svc.conversations.SoftDelete(ctx, first.ID, summary.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if err := svc.conversations.SoftDelete(ctx, first.ID, summary.ID); err != nil {
		t.Fatalf("repeat SoftDelete: %v", err)
	}

	firstList, err := svc.conversations.List(ctx, first.ID)
	if err != nil {
		t.Fatalf("List first: %v", err)
	}
	secondList, err := svc.conversations.List(ctx, second.ID)
	if err != nil {
		t.Fatalf("List second: %v", err)
	}
	if len(firstList) != 0 || len(secondList) != 1 {
		t.Fatalf("expected 0 and 1 conversations, got %d and %d", len(firstList), len(secondList))
	}
	if _, err := svc.messages.List(ctx, first.ID, summary.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected soft-deleted conversation to look missing, got %v", err)
	}

	restored, created, err := svc.conversations.GetOrCreate(ctx, first.ID, second.Email)
	if err != nil {
		t.Fatalf("GetOrCreate after delete: %v", err)
	}
	if created || restored.ID != summary.ID {
		t.Fatalf("expected soft-deleted conversation to be restored, got %d created=%v", restored.ID, created)
	}
	if firstList, err = svc.conversations.List(ctx, first.ID); err != nil || len(firstList) != 1 {
		t.Fatalf("expected restored conversation to be listed, got %d %v", len(firstList), err)
	}
}

func TestMessagingRejectsOutsiders(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	svc := newIntegrationServices(pool)

	first := createTestUser(t, ctx, pool, "member")
	second := createTestUser(t, ctx, pool, "member")
	outsider := createTestUser(t, ctx, pool, "outsider")
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, first.ID, second.ID, outsider.ID) })

	summary, _, err := svc.conversations.GetOrCreate(ctx, first.ID, second.Email)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if _, err := svc.messages.Send(ctx, outsider.ID, summary.ID, SendMessageInput{Content: "hi"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for outsider send, got %v", err)
	}
	if _, err := svc.messages.List(ctx, outsider.ID, summary.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for outsider list, got %v", err)
	}
	if _, err := svc.messages.Send(ctx, first.ID, summary.ID, SendMessageInput{Content: strings.Repeat("a", models.MaxMessageLength+1)}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for oversized content, got %v", err)
	}
}

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("DB_URL is not set")
			return
		}

		cfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			testDBErr = err
			return
		}

		testDBPool, testDBErr = pgxpool.NewWithConfig(context.Background(), cfg)
		if testDBErr != nil {
			return
		}
		testDBErr = testDBPool.Ping(context.Background())
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

func newIntegrationServices(pool *pgxpool.Pool) integrationServices {
	conversations := repository.NewConversationRepository(pool)
	deletions := repository.NewDeletedMarkRepository(pool)
	publisher := &recordingPublisher{}

	return integrationServices{
		conversations: NewConversationService(conversations, deletions, repository.NewUserRepository(pool)),
		messages: NewMessageService(
			conversations,
			deletions,
			repository.NewMessageRepository(pool),
			repository.NewAttachmentRepository(pool),
			publisher,
		),
		publisher: publisher,
	}
}

func createTestUser(t *testing.T, ctx context.Context, pool *pgxpool.Pool, label string) *models.User {
	t.Helper()

	user := &models.User{
		Name:         "Test " + label,
		Email:        fmt.Sprintf("chat-test-%s-%d@example.com", label, time.Now().UnixNano()),
		PasswordHash: "test-hash",
	}
	if err := repository.NewUserRepository(pool).UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser(%s): %v", label, err)
	}
	return user
}

func cleanupTestUsers(t *testing.T, ctx context.Context, pool *pgxpool.Pool, userIDs ...int64) {
	t.Helper()

	if _, err := pool.Exec(ctx, `
		DELETE FROM conversations
		WHERE id IN (
			SELECT conversation_id FROM conversation_participants WHERE user_id = ANY($1)
		)
	`, userIDs); err != nil {
		t.Errorf("cleanup conversations: %v", err)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM users WHERE id = ANY($1)`, userIDs); err != nil {
		t.Errorf("cleanup users: %v", err)
	}
}
