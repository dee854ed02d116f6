package models

import "time"

const MaxMessageLength = 1000

type Conversation struct {
	ID             int64     `json:"id"`
	ParticipantIDs []int64   `json:"participant_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c *Conversation) HasParticipant(userID int64) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type ChatMessage struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversation_id"`
	SenderID       int64         `json:"sender_id"`
	Sender         *UserSummary  `json:"sender,omitempty"`
	Content        string        `json:"content"`
	IsRead         bool          `json:"is_read"`
	ReplyToID      *int64        `json:"reply_to_id,omitempty"`
	ReplyTo        *ReplyPreview `json:"reply_to,omitempty"`
	Attachments    []Attachment  `json:"attachments"`
	CreatedAt      time.Time     `json:"created_at"`
}

// ReplyPreview is the quoted message shown above a reply.
type ReplyPreview struct {
	ID        int64        `json:"id"`
	Sender    *UserSummary `json:"sender,omitempty"`
	SenderID  int64        `json:"sender_id"`
	Content   string       `json:"content"`
	Timestamp time.Time    `json:"timestamp"`
}

// ConversationPreview is returned by get-or-create while a conversation has no messages yet.
type ConversationPreview struct {
	ID           int64         `json:"id"`
	Participants []UserSummary `json:"participants"`
}

type ConversationSummary struct {
	ID             int64         `json:"id"`
	ParticipantIDs []int64       `json:"participant_ids"`
	Participants   []UserSummary `json:"participants"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	LastMessage    *ChatMessage  `json:"last_message"`
	UnreadCount    int           `json:"unread_count"`
}

type TypingStatus struct {
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	LastActivity   time.Time `json:"last_activity"`
}

// Projection returns the reduced preview until the conversation has a message.
func (s *ConversationSummary) Projection() any {
	if s.LastMessage == nil {
		return &ConversationPreview{ID: s.ID, Participants: s.Participants}
	}
	return s
}
