package chatws

import (
	"encoding/json"
	"time"

	"github.com/classbuddy/ClassBuddyBack/internal/models"
)

const (
	EventMessage = "message"
	EventTyping  = "typing"
	EventPing    = "ping"
	EventPong    = "pong"
	EventError   = "error"
)

// inboundEvent is what a session may send. Content may also arrive as
// "message"; a missing type means a chat message.
type inboundEvent struct {
	Type        string  `json:"type"`
	Content     string  `json:"content"`
	Message     string  `json:"message"`
	ReplyTo     *int64  `json:"reply_to"`
	Attachments []int64 `json:"attachments"`
	IsTyping    *bool   `json:"is_typing"`
}

func (e inboundEvent) text() string {
	if e.Content != "" {
		return e.Content
	}
	return e.Message
}

type MessageEvent struct {
	Type           string              `json:"type"`
	ConversationID int64               `json:"conversation_id"`
	Message        *models.ChatMessage `json:"message"`
}

type TypingEvent struct {
	Type           string    `json:"type"`
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	LastActivity   time.Time `json:"last_activity"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type PongEvent struct {
	Type string `json:"type"`
}

func encodeMessage(message *models.ChatMessage) ([]byte, error) {
	return json.Marshal(MessageEvent{
		Type:           EventMessage,
		ConversationID: message.ConversationID,
		Message:        message,
	})
}

func encodeTyping(status models.TypingStatus) ([]byte, error) {
	return json.Marshal(TypingEvent{
		Type:           EventTyping,
		ConversationID: status.ConversationID,
		UserID:         status.UserID,
		IsTyping:       status.IsTyping,
		LastActivity:   status.LastActivity,
	})
}
