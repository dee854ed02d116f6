package services

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/classbuddy/ClassBuddyBack/internal/models"
	"github.com/classbuddy/ClassBuddyBack/internal/repository"
	"github.com/jackc/pgx/v5"
)

type deletionKey struct {
	conversationID int64
	userID         int64
}

// memoryChat is a small in-memory stand-in for the conversation, deletion,
// message and user repositories.
type memoryChat struct {
	mu            sync.Mutex
	users         map[int64]models.User
	conversations map[int64]*models.Conversation
	deletions     map[deletionKey]bool
	messages      []models.ChatMessage
	nextID        int64
	createCalls   int
}

func newMemoryChat(users ...models.User) *memoryChat {
	chat := &memoryChat{
		users:         make(map[int64]models.User),
		conversations: make(map[int64]*models.Conversation),
		deletions:     make(map[deletionKey]bool),
		nextID:        100,
	}
	for _, user := range users {
		chat.users[user.ID] = user
	}
	return chat
}

func (m *memoryChat) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryChat) addConversation(participants ...int64) *models.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	conversation := &models.Conversation{ID: m.id(), ParticipantIDs: participants, CreatedAt: now, UpdatedAt: now}
	m.conversations[conversation.ID] = conversation
	return conversation
}

// conversation store

func (m *memoryChat) GetByID(_ context.Context, conversationID int64) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[conversationID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *conversation
	copied.ParticipantIDs = append([]int64(nil), conversation.ParticipantIDs...)
	return &copied, nil
}

func (m *memoryChat) Create(_ context.Context, participantIDs []int64) (*models.Conversation, error) {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()
	return m.addConversation(participantIDs...), nil
}

func (m *memoryChat) FindPair(_ context.Context, userID, otherUserID int64, deletedByUser bool) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conversation := range m.conversations {
		if len(conversation.ParticipantIDs) != 2 || !conversation.HasParticipant(userID) || !conversation.HasParticipant(otherUserID) {
			continue
		}
		if m.deletions[deletionKey{conversation.ID, userID}] != deletedByUser {
			continue
		}
		copied := *conversation
		return &copied, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *memoryChat) ListForParticipant(_ context.Context, participantID int64) ([]models.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summaries := make([]models.ConversationSummary, 0)
	for _, conversation := range m.conversations {
		if !conversation.HasParticipant(participantID) || m.deletions[deletionKey{conversation.ID, participantID}] {
			continue
		}
		summaries = append(summaries, m.summaryLocked(conversation, participantID))
	}
	return summaries, nil
}

func (m *memoryChat) GetSummary(_ context.Context, conversationID int64, viewerID int64) (*models.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[conversationID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	summary := m.summaryLocked(conversation, viewerID)
	return &summary, nil
}

func (m *memoryChat) summaryLocked(conversation *models.Conversation, viewerID int64) models.ConversationSummary {
	summary := models.ConversationSummary{
		ID:             conversation.ID,
		ParticipantIDs: append([]int64(nil), conversation.ParticipantIDs...),
		CreatedAt:      conversation.CreatedAt,
		UpdatedAt:      conversation.UpdatedAt,
	}
	for i := range m.messages {
		message := m.messages[i]
		if message.ConversationID != conversation.ID {
			continue
		}
		summary.LastMessage = &message
		if message.SenderID != viewerID && !message.IsRead {
			summary.UnreadCount++
		}
	}
	return summary
}

func (m *memoryChat) AddParticipant(_ context.Context, conversationID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation := m.conversations[conversationID]
	if !conversation.HasParticipant(userID) {
		conversation.ParticipantIDs = append(conversation.ParticipantIDs, userID)
	}
	return nil
}

func (m *memoryChat) RemoveParticipant(_ context.Context, conversationID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation := m.conversations[conversationID]
	kept := conversation.ParticipantIDs[:0]
	for _, id := range conversation.ParticipantIDs {
		if id != userID {
			kept = append(kept, id)
		}
	}
	conversation.ParticipantIDs = kept
	return nil
}

// deletion marks, exposed through memoryDeletions to avoid clashing method names

type memoryDeletions struct{ chat *memoryChat }

func (d memoryDeletions) Mark(_ context.Context, conversationID, userID int64) error {
	d.chat.mu.Lock()
	defer d.chat.mu.Unlock()
	d.chat.deletions[deletionKey{conversationID, userID}] = true
	return nil
}

func (d memoryDeletions) Clear(_ context.Context, conversationID, userID int64) error {
	d.chat.mu.Lock()
	defer d.chat.mu.Unlock()
	delete(d.chat.deletions, deletionKey{conversationID, userID})
	return nil
}

func (d memoryDeletions) Exists(_ context.Context, conversationID, userID int64) (bool, error) {
	d.chat.mu.Lock()
	defer d.chat.mu.Unlock()
	return d.chat.deletions[deletionKey{conversationID, userID}], nil
}

// users

type memoryUsers struct{ chat *memoryChat }

func (u memoryUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	for _, user := range u.chat.users {
		if user.Email == email {
			copied := user
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (u memoryUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	user, ok := u.chat.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}

func (u memoryUsers) ListSummaries(_ context.Context, ids []int64) ([]models.UserSummary, error) {
	summaries := make([]models.UserSummary, 0, len(ids))
	for _, id := range ids {
		if user, ok := u.chat.users[id]; ok {
			summaries = append(summaries, user.Summary())
		}
	}
	return summaries, nil
}

// messages

type memoryMessages struct{ chat *memoryChat }

func (s memoryMessages) Create(_ context.Context, input repository.CreateMessageInput) (*models.ChatMessage, error) {
	s.chat.mu.Lock()
	defer s.chat.mu.Unlock()
	message := models.ChatMessage{
		ID:             s.chat.id(),
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		Content:        input.Content,
		ReplyToID:      input.ReplyToID,
		CreatedAt:      time.Now().UTC(),
	}
	if user, ok := s.chat.users[input.SenderID]; ok {
		summary := user.Summary()
		message.Sender = &summary
	}
	s.chat.messages = append(s.chat.messages, message)
	if conversation, ok := s.chat.conversations[input.ConversationID]; ok {
		conversation.UpdatedAt = message.CreatedAt
	}
	return &message, nil
}

func (s memoryMessages) GetByID(_ context.Context, messageID int64) (*models.ChatMessage, error) {
	s.chat.mu.Lock()
	defer s.chat.mu.Unlock()
	for _, message := range s.chat.messages {
		if message.ID == messageID {
			copied := message
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s memoryMessages) ListByConversation(_ context.Context, conversationID int64) ([]models.ChatMessage, error) {
	s.chat.mu.Lock()
	defer s.chat.mu.Unlock()
	result := make([]models.ChatMessage, 0)
	for _, message := range s.chat.messages {
		if message.ConversationID == conversationID {
			result = append(result, message)
		}
	}
	return result, nil
}

func (s memoryMessages) Search(_ context.Context, conversationID int64, query string) ([]models.ChatMessage, error) {
	s.chat.mu.Lock()
	defer s.chat.mu.Unlock()
	result := make([]models.ChatMessage, 0)
	for i := len(s.chat.messages) - 1; i >= 0; i-- {
		message := s.chat.messages[i]
		if message.ConversationID == conversationID && bytes.Contains(bytes.ToLower([]byte(message.Content)), bytes.ToLower([]byte(query))) {
			result = append(result, message)
		}
	}
	return result, nil
}

func (s memoryMessages) MarkConversationRead(_ context.Context, conversationID int64, readerID int64) (int64, error) {
	s.chat.mu.Lock()
	defer s.chat.mu.Unlock()
	var changed int64
	for i := range s.chat.messages {
		message := &s.chat.messages[i]
		if message.ConversationID == conversationID && message.SenderID != readerID && !message.IsRead {
			message.IsRead = true
			changed++
		}
	}
	return changed, nil
}

func (s memoryMessages) MarkMessagesRead(_ context.Context, messageIDs []int64, readerID int64) (int64, error) {
	s.chat.mu.Lock()
	defer s.chat.mu.Unlock()
	wanted := make(map[int64]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}
	var changed int64
	for i := range s.chat.messages {
		message := &s.chat.messages[i]
		if wanted[message.ID] && message.SenderID != readerID && !message.IsRead {
			message.IsRead = true
			changed++
		}
	}
	return changed, nil
}

func (s memoryMessages) CountAccessible(_ context.Context, messageIDs []int64, userID int64) (int, error) {
	s.chat.mu.Lock()
	defer s.chat.mu.Unlock()
	wanted := make(map[int64]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}
	count := 0
	for _, message := range s.chat.messages {
		if wanted[message.ID] && s.chat.conversations[message.ConversationID].HasParticipant(userID) {
			count++
		}
	}
	return count, nil
}

func (s memoryMessages) UnreadCount(_ context.Context, userID int64) (int, error) {
	s.chat.mu.Lock()
	defer s.chat.mu.Unlock()
	count := 0
	for _, message := range s.chat.messages {
		conversation := s.chat.conversations[message.ConversationID]
		if !conversation.HasParticipant(userID) || s.chat.deletions[deletionKey{conversation.ID, userID}] {
			continue
		}
		if message.SenderID != userID && !message.IsRead {
			count++
		}
	}
	return count, nil
}

type stubAttachmentStore struct {
	owned        int
	ownedErr     error
	byMessage    map[int64][]models.Attachment
	attachment   *models.Attachment
	getErr       error
	createErr    error
	lastCreate   repository.CreateAttachmentInput
	linked       []int64
	canDelete    bool
	canAccess    bool
	deletedIDs   []int64
	listedForIDs []int64
}

func (s *stubAttachmentStore) ListByMessages(_ context.Context, ids []int64) (map[int64][]models.Attachment, error) {
	s.listedForIDs = ids
	if s.byMessage == nil {
		return map[int64][]models.Attachment{}, nil
	}
	return s.byMessage, nil
}

func (s *stubAttachmentStore) CountOwned(_ context.Context, _ []int64, _, _ int64) (int, error) {
	return s.owned, s.ownedErr
}

func (s *stubAttachmentStore) Create(_ context.Context, input repository.CreateAttachmentInput) (*models.Attachment, error) {
	s.lastCreate = input
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &models.Attachment{
		ID:             55,
		ConversationID: input.ConversationID,
		Filename:       input.Filename,
		Size:           input.Size,
		ContentType:    input.ContentType,
		UploaderID:     input.UploaderID,
		StorageRef:     input.StorageRef,
	}, nil
}

func (s *stubAttachmentStore) GetByID(_ context.Context, _ int64) (*models.Attachment, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.attachment, nil
}

func (s *stubAttachmentStore) LinkToMessage(_ context.Context, _ int64, messageID int64) error {
	s.linked = append(s.linked, messageID)
	return nil
}

func (s *stubAttachmentStore) CanDelete(_ context.Context, _, _ int64) (bool, error) {
	return s.canDelete, nil
}

func (s *stubAttachmentStore) CanAccess(_ context.Context, _, _ int64) (bool, error) {
	return s.canAccess, nil
}

func (s *stubAttachmentStore) Delete(_ context.Context, attachmentID int64) error {
	s.deletedIDs = append(s.deletedIDs, attachmentID)
	return nil
}

type stubStorage struct {
	uploadRef      string
	uploadErr      error
	deleteErr      error
	openBody       string
	openErr        error
	lastObjectPath string
	lastType       string
	uploaded       []byte
	deletedRefs    []string
}

func (s *stubStorage) UploadFile(_ context.Context, file io.Reader, objectPath string, contentType string) (string, error) {
	s.lastObjectPath = objectPath
	s.lastType = contentType
	s.uploaded, _ = io.ReadAll(file)
	return s.uploadRef, s.uploadErr
}

func (s *stubStorage) DeleteFile(_ context.Context, fileURL string) error {
	s.deletedRefs = append(s.deletedRefs, fileURL)
	return s.deleteErr
}

func (s *stubStorage) OpenFile(_ context.Context, _ string) (io.ReadCloser, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return io.NopCloser(bytes.NewBufferString(s.openBody)), nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*models.ChatMessage
	typing   []models.TypingStatus
}

func (p *recordingPublisher) PublishMessage(message *models.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
}

func (p *recordingPublisher) PublishTyping(status models.TypingStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing = append(p.typing, status)
}

func createInput(conversationID, senderID int64, content string) repository.CreateMessageInput {
	return repository.CreateMessageInput{ConversationID: conversationID, SenderID: senderID, Content: content}
}
