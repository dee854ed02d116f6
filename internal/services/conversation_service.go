package services

import (
	"context"
	"errors"
	"strings"

	"github.com/classbuddy/ClassBuddyBack/internal/models"
	"github.com/jackc/pgx/v5"
)

type conversationStore interface {
	conversationReader
	Create(ctx context.Context, participantIDs []int64) (*models.Conversation, error)
	FindPair(ctx context.Context, userID int64, otherUserID int64, deletedByUser bool) (*models.Conversation, error)
	ListForParticipant(ctx context.Context, participantID int64) ([]models.ConversationSummary, error)
	GetSummary(ctx context.Context, conversationID int64, viewerID int64) (*models.ConversationSummary, error)
	AddParticipant(ctx context.Context, conversationID, userID int64) error
	RemoveParticipant(ctx context.Context, conversationID, userID int64) error
}

type deletedMarkStore interface {
	Mark(ctx context.Context, conversationID, userID int64) error
	Clear(ctx context.Context, conversationID, userID int64) error
	Exists(ctx context.Context, conversationID, userID int64) (bool, error)
}

// userDirectory is the read side of the identity provider.
type userDirectory interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	ListSummaries(ctx context.Context, ids []int64) ([]models.UserSummary, error)
}

type ConversationService struct {
	conversations conversationStore
	deletions     deletedMarkStore
	users         userDirectory
}

// ParticipantChange names the only field participant mutations may carry.
type ParticipantChange struct {
	UserID int64
}

func NewConversationService(
	conversations conversationStore,
	deletions deletedMarkStore,
	users userDirectory,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		deletions:     deletions,
		users:         users,
	}
}

// GetOrCreate returns the two-party conversation between actorID and the user
// registered under email. A conversation the actor soft-deleted is reused and
// restored instead of starting a new one. created reports whether a new
// conversation was inserted.
func (s *ConversationService) GetOrCreate(
	ctx context.Context,
	actorID int64,
	email string,
) (summary *models.ConversationSummary, created bool, err error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, false, validationError("email is required")
	}

	other, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrUserNotFound
		}
		return nil, false, err
	}
	if other.ID == actorID {
		return nil, false, errors.Join(ErrInvalidOperation, errors.New("cannot start a conversation with yourself"))
	}

	conversation, err := s.conversations.FindPair(ctx, actorID, other.ID, false)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		conversation, err = s.conversations.FindPair(ctx, actorID, other.ID, true)
		switch {
		case err == nil:
			if err := s.deletions.Clear(ctx, conversation.ID, actorID); err != nil {
				return nil, false, err
			}
		case errors.Is(err, pgx.ErrNoRows):
			conversation, err = s.conversations.Create(ctx, []int64{actorID, other.ID})
			if err != nil {
				return nil, false, err
			}
			created = true
		default:
			return nil, false, err
		}
	default:
		return nil, false, err
	}

	summary, err = s.conversations.GetSummary(ctx, conversation.ID, actorID)
	if err != nil {
		return nil, false, err
	}
	if err := s.attachParticipants(ctx, summary); err != nil {
		return nil, false, err
	}

	return summary, created, nil
}

func (s *ConversationService) List(ctx context.Context, actorID int64) ([]models.ConversationSummary, error) {
	summaries, err := s.conversations.ListForParticipant(ctx, actorID)
	if err != nil {
		return nil, err
	}

	pointers := make([]*models.ConversationSummary, len(summaries))
	for i := range summaries {
		pointers[i] = &summaries[i]
	}
	if err := s.attachParticipants(ctx, pointers...); err != nil {
		return nil, err
	}

	return summaries, nil
}

func (s *ConversationService) Get(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) (*models.ConversationSummary, error) {
	if _, err := s.loadVisible(ctx, actorID, conversationID); err != nil {
		return nil, err
	}

	return s.summary(ctx, actorID, conversationID)
}

// CheckParticipant fails unless actorID belongs to the conversation.
func (s *ConversationService) CheckParticipant(ctx context.Context, actorID int64, conversationID int64) error {
	_, err := loadForParticipant(ctx, s.conversations, conversationID, actorID)
	return err
}

// SoftDelete hides the conversation from actorID only. Repeating it is a no-op.
func (s *ConversationService) SoftDelete(ctx context.Context, actorID int64, conversationID int64) error {
	if _, err := loadForParticipant(ctx, s.conversations, conversationID, actorID); err != nil {
		return err
	}

	return s.deletions.Mark(ctx, conversationID, actorID)
}

func (s *ConversationService) AddParticipant(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	change ParticipantChange,
) (*models.ConversationSummary, error) {
	if change.UserID <= 0 {
		return nil, validationError("user_id is required")
	}
	if _, err := loadForParticipant(ctx, s.conversations, conversationID, actorID); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByID(ctx, change.UserID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if err := s.conversations.AddParticipant(ctx, conversationID, change.UserID); err != nil {
		return nil, err
	}

	return s.summary(ctx, actorID, conversationID)
}

// RemoveParticipant drops a member. Participants may remove themselves; no
// lower bound on the participant count is enforced.
func (s *ConversationService) RemoveParticipant(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	change ParticipantChange,
) error {
	if change.UserID <= 0 {
		return validationError("user_id is required")
	}
	if _, err := loadForParticipant(ctx, s.conversations, conversationID, actorID); err != nil {
		return err
	}

	return s.conversations.RemoveParticipant(ctx, conversationID, change.UserID)
}

// loadVisible is loadForParticipant plus the actor's own soft-delete marker,
// which makes the conversation look absent.
func (s *ConversationService) loadVisible(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) (*models.Conversation, error) {
	conversation, err := loadForParticipant(ctx, s.conversations, conversationID, actorID)
	if err != nil {
		return nil, err
	}

	deleted, err := s.deletions.Exists(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, ErrConversationNotFound
	}

	return conversation, nil
}

func (s *ConversationService) summary(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) (*models.ConversationSummary, error) {
	summary, err := s.conversations.GetSummary(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if err := s.attachParticipants(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *ConversationService) attachParticipants(ctx context.Context, summaries ...*models.ConversationSummary) error {
	ids := make([]int64, 0)
	for _, summary := range summaries {
		ids = append(ids, summary.ParticipantIDs...)
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}

	profiles, err := s.users.ListSummaries(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[int64]models.UserSummary, len(profiles))
	for _, profile := range profiles {
		byID[profile.ID] = profile
	}

	for _, summary := range summaries {
		summary.Participants = make([]models.UserSummary, 0, len(summary.ParticipantIDs))
		for _, id := range summary.ParticipantIDs {
			if profile, ok := byID[id]; ok {
				summary.Participants = append(summary.Participants, profile)
			}
		}
	}

	return nil
}
