package presence

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/classbuddy/ClassBuddyBack/internal/models"
)

const DefaultTTL = 10 * time.Second

// Store persists typing state so it survives restarts.
type Store interface {
	Upsert(ctx context.Context, status models.TypingStatus) error
	ListByConversation(ctx context.Context, conversationID int64) ([]models.TypingStatus, error)
}

type key struct {
	conversationID int64
	userID         int64
}

// Tracker is the in-memory typing cache. Writes are last-write-wins per
// (conversation, user) and are written through to the store.
type Tracker struct {
	mu     sync.Mutex
	states map[key]models.TypingStatus
	loaded map[int64]bool
	store  Store
	ttl    time.Duration
	now    func() time.Time
}

func NewTracker(store Store, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		states: make(map[key]models.TypingStatus),
		loaded: make(map[int64]bool),
		store:  store,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Set records the typing flag for a user and returns the stored state.
func (t *Tracker) Set(ctx context.Context, conversationID, userID int64, isTyping bool) models.TypingStatus {
	status := models.TypingStatus{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		LastActivity:   t.now(),
	}

	t.mu.Lock()
	k := key{conversationID: conversationID, userID: userID}
	if current, ok := t.states[k]; ok && current.LastActivity.After(status.LastActivity) {
		status.LastActivity = current.LastActivity
	}
	t.states[k] = status
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.Upsert(ctx, status); err != nil {
			log.Printf("presence: persist typing status conversation=%d user=%d: %v", conversationID, userID, err)
		}
	}

	return status
}

func (t *Tracker) Clear(ctx context.Context, conversationID, userID int64) models.TypingStatus {
	return t.Set(ctx, conversationID, userID, false)
}

// Active lists users currently typing in the conversation, most recent first.
// Entries older than the tracker's TTL are treated as stale.
func (t *Tracker) Active(ctx context.Context, conversationID int64) []models.TypingStatus {
	t.ensureLoaded(ctx, conversationID)

	cutoff := t.now().Add(-t.ttl)

	t.mu.Lock()
	active := make([]models.TypingStatus, 0)
	for k, status := range t.states {
		if k.conversationID != conversationID || !status.IsTyping {
			continue
		}
		if status.LastActivity.Before(cutoff) {
			continue
		}
		active = append(active, status)
	}
	t.mu.Unlock()

	sort.Slice(active, func(i, j int) bool {
		if active[i].LastActivity.Equal(active[j].LastActivity) {
			return active[i].UserID < active[j].UserID
		}
		return active[i].LastActivity.After(active[j].LastActivity)
	})

	return active
}

func (t *Tracker) ensureLoaded(ctx context.Context, conversationID int64) {
	t.mu.Lock()
	done := t.loaded[conversationID]
	t.mu.Unlock()
	if done || t.store == nil {
		return
	}

	statuses, err := t.store.ListByConversation(ctx, conversationID)
	if err != nil {
		log.Printf("presence: load typing statuses conversation=%d: %v", conversationID, err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, status := range statuses {
		k := key{conversationID: status.ConversationID, userID: status.UserID}
		if current, ok := t.states[k]; ok && !status.LastActivity.After(current.LastActivity) {
			continue
		}
		t.states[k] = status
	}
	t.loaded[conversationID] = true
}
