package services

import (
	"context"

	"github.com/classbuddy/ClassBuddyBack/internal/metrics"
	"github.com/classbuddy/ClassBuddyBack/internal/models"
)

type typingTracker interface {
	Set(ctx context.Context, conversationID, userID int64, isTyping bool) models.TypingStatus
	Active(ctx context.Context, conversationID int64) []models.TypingStatus
}

type PresenceService struct {
	conversations conversationReader
	tracker       typingTracker
	publisher     Publisher
}

func NewPresenceService(conversations conversationReader, tracker typingTracker, publisher Publisher) *PresenceService {
	return &PresenceService{
		conversations: conversations,
		tracker:       tracker,
		publisher:     publisher,
	}
}

// UpdateTyping checks membership before recording and broadcasting the flag.
func (s *PresenceService) UpdateTyping(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	isTyping bool,
) (*models.TypingStatus, error) {
	if _, err := loadForParticipant(ctx, s.conversations, conversationID, actorID); err != nil {
		return nil, err
	}

	status := s.SetTyping(ctx, actorID, conversationID, isTyping)
	return &status, nil
}

// SetTyping is used by realtime sessions whose membership was checked at connect time.
func (s *PresenceService) SetTyping(ctx context.Context, actorID int64, conversationID int64, isTyping bool) models.TypingStatus {
	status := s.tracker.Set(ctx, conversationID, actorID, isTyping)
	metrics.TypingEvents.WithLabelValues("accepted").Inc()
	if s.publisher != nil {
		s.publisher.PublishTyping(status)
	}
	return status
}

func (s *PresenceService) ListTyping(ctx context.Context, actorID int64, conversationID int64) ([]models.TypingStatus, error) {
	if _, err := loadForParticipant(ctx, s.conversations, conversationID, actorID); err != nil {
		return nil, err
	}

	return s.tracker.Active(ctx, conversationID), nil
}

// ActiveTyping returns the snapshot sent to a session right after it connects.
func (s *PresenceService) ActiveTyping(ctx context.Context, conversationID int64) []models.TypingStatus {
	return s.tracker.Active(ctx, conversationID)
}
