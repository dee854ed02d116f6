package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/classbuddy/ClassBuddyBack/internal/metrics"
	"github.com/classbuddy/ClassBuddyBack/internal/models"
	"github.com/classbuddy/ClassBuddyBack/internal/repository"
	"github.com/jackc/pgx/v5"
)

// Publisher fans persisted events out to realtime subscribers of a conversation.
type Publisher interface {
	PublishMessage(message *models.ChatMessage)
	PublishTyping(status models.TypingStatus)
}

type messageStore interface {
	Create(ctx context.Context, input repository.CreateMessageInput) (*models.ChatMessage, error)
	GetByID(ctx context.Context, messageID int64) (*models.ChatMessage, error)
	ListByConversation(ctx context.Context, conversationID int64) ([]models.ChatMessage, error)
	Search(ctx context.Context, conversationID int64, query string) ([]models.ChatMessage, error)
	MarkConversationRead(ctx context.Context, conversationID int64, readerID int64) (int64, error)
	MarkMessagesRead(ctx context.Context, messageIDs []int64, readerID int64) (int64, error)
	CountAccessible(ctx context.Context, messageIDs []int64, userID int64) (int, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
}

type messageAttachmentStore interface {
	ListByMessages(ctx context.Context, messageIDs []int64) (map[int64][]models.Attachment, error)
	CountOwned(ctx context.Context, ids []int64, uploaderID, conversationID int64) (int, error)
}

type MessageService struct {
	conversations conversationReader
	deletions     deletedMarkStore
	messages      messageStore
	attachments   messageAttachmentStore
	publisher     Publisher
	locks         *conversationLocks
}

type SendMessageInput struct {
	Content       string
	ReplyToID     *int64
	AttachmentIDs []int64
}

func NewMessageService(
	conversations conversationReader,
	deletions deletedMarkStore,
	messages messageStore,
	attachments messageAttachmentStore,
	publisher Publisher,
) *MessageService {
	return &MessageService{
		conversations: conversations,
		deletions:     deletions,
		messages:      messages,
		attachments:   attachments,
		publisher:     publisher,
		locks:         newConversationLocks(),
	}
}

// Send persists a message and publishes it to the conversation's subscribers.
// The per-conversation lock is held until the publish is enqueued, so
// subscribers observe messages in the order they were stored.
func (s *MessageService) Send(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	input SendMessageInput,
) (*models.ChatMessage, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, validationError("message content is required")
	}
	if utf8.RuneCountInString(content) > models.MaxMessageLength {
		return nil, validationError("message content exceeds %d characters", models.MaxMessageLength)
	}

	if _, err := loadForParticipant(ctx, s.conversations, conversationID, actorID); err != nil {
		return nil, err
	}

	if input.ReplyToID != nil {
		reply, err := s.messages.GetByID(ctx, *input.ReplyToID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, validationError("reply_to message does not exist")
			}
			return nil, err
		}
		if reply.ConversationID != conversationID {
			return nil, validationError("reply_to message belongs to another conversation")
		}
	}

	attachmentIDs := uniqueIDs(input.AttachmentIDs)
	if len(attachmentIDs) > 0 {
		owned, err := s.attachments.CountOwned(ctx, attachmentIDs, actorID, conversationID)
		if err != nil {
			return nil, err
		}
		if owned != len(attachmentIDs) {
			return nil, validationError("attachments must be uploaded by the sender to this conversation")
		}
	}

	unlock := s.locks.lock(conversationID)
	defer unlock()

	message, err := s.messages.Create(ctx, repository.CreateMessageInput{
		ConversationID: conversationID,
		SenderID:       actorID,
		Content:        content,
		ReplyToID:      input.ReplyToID,
		AttachmentIDs:  attachmentIDs,
	})
	if err != nil {
		return nil, err
	}
	if err := s.attachAttachments(ctx, message); err != nil {
		return nil, err
	}

	metrics.MessagesSent.Inc()
	if s.publisher != nil {
		s.publisher.PublishMessage(message)
	}

	return message, nil
}

func (s *MessageService) List(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) ([]models.ChatMessage, error) {
	if err := s.checkVisible(ctx, actorID, conversationID); err != nil {
		return nil, err
	}

	messages, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.attachAttachments(ctx, sliceRefs(messages)...); err != nil {
		return nil, err
	}

	return messages, nil
}

func (s *MessageService) GetMessage(ctx context.Context, actorID int64, messageID int64) (*models.ChatMessage, error) {
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if _, err := loadForParticipant(ctx, s.conversations, message.ConversationID, actorID); err != nil {
		return nil, err
	}
	if err := s.attachAttachments(ctx, message); err != nil {
		return nil, err
	}

	return message, nil
}

// MarkConversationRead marks every message in the conversation that actorID
// did not send as read and reports how many changed.
func (s *MessageService) MarkConversationRead(ctx context.Context, actorID int64, conversationID int64) (int64, error) {
	if _, err := loadForParticipant(ctx, s.conversations, conversationID, actorID); err != nil {
		return 0, err
	}

	return s.messages.MarkConversationRead(ctx, conversationID, actorID)
}

func (s *MessageService) MarkMessagesRead(ctx context.Context, actorID int64, messageIDs []int64) (int64, error) {
	ids := uniqueIDs(messageIDs)
	if len(ids) == 0 {
		return 0, validationError("message_ids is required")
	}

	accessible, err := s.messages.CountAccessible(ctx, ids, actorID)
	if err != nil {
		return 0, err
	}
	if accessible != len(ids) {
		return 0, ErrForbidden
	}

	return s.messages.MarkMessagesRead(ctx, ids, actorID)
}

func (s *MessageService) UnreadCount(ctx context.Context, actorID int64) (int, error) {
	return s.messages.UnreadCount(ctx, actorID)
}

// Search is not hidden by the actor's soft-delete marker.
func (s *MessageService) Search(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	query string,
) ([]models.ChatMessage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationError("search query is required")
	}
	if _, err := loadForParticipant(ctx, s.conversations, conversationID, actorID); err != nil {
		return nil, err
	}

	messages, err := s.messages.Search(ctx, conversationID, query)
	if err != nil {
		return nil, err
	}
	if err := s.attachAttachments(ctx, sliceRefs(messages)...); err != nil {
		return nil, err
	}

	return messages, nil
}

func (s *MessageService) checkVisible(ctx context.Context, actorID int64, conversationID int64) error {
	if _, err := loadForParticipant(ctx, s.conversations, conversationID, actorID); err != nil {
		return err
	}

	deleted, err := s.deletions.Exists(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if deleted {
		return ErrConversationNotFound
	}
	return nil
}

func (s *MessageService) attachAttachments(ctx context.Context, messages ...*models.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(messages))
	for _, message := range messages {
		ids = append(ids, message.ID)
	}

	byMessage, err := s.attachments.ListByMessages(ctx, ids)
	if err != nil {
		return err
	}
	for _, message := range messages {
		if attachments, ok := byMessage[message.ID]; ok {
			message.Attachments = attachments
		} else if message.Attachments == nil {
			message.Attachments = []models.Attachment{}
		}
	}

	return nil
}

func sliceRefs(messages []models.ChatMessage) []*models.ChatMessage {
	refs := make([]*models.ChatMessage, len(messages))
	for i := range messages {
		refs[i] = &messages[i]
	}
	return refs
}
