package services

import (
	"context"
	"errors"
	"sync"

	"github.com/classbuddy/ClassBuddyBack/internal/models"
	"github.com/jackc/pgx/v5"
)

type conversationReader interface {
	GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error)
}

// loadForParticipant fetches the conversation and fails with ErrForbidden
// when actorID is not one of its participants.
func loadForParticipant(
	ctx context.Context,
	conversations conversationReader,
	conversationID int64,
	actorID int64,
) (*models.Conversation, error) {
	if conversationID <= 0 {
		return nil, ErrConversationNotFound
	}

	conversation, err := conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conversation.HasParticipant(actorID) {
		return nil, ErrForbidden
	}

	return conversation, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	result := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

// conversationLocks serializes persist-then-publish per conversation so the
// broadcast order matches the stored order.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[int64]*conversationLock
}

type conversationLock struct {
	sync.Mutex
	refs int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[int64]*conversationLock)}
}

func (l *conversationLocks) lock(conversationID int64) func() {
	l.mu.Lock()
	entry, ok := l.locks[conversationID]
	if !ok {
		entry = &conversationLock{}
		l.locks[conversationID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, conversationID)
		}
		l.mu.Unlock()
	}
}
