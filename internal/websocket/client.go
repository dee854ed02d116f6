package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/classbuddy/ClassBuddyBack/internal/metrics"
	"github.com/classbuddy/ClassBuddyBack/internal/models"
	"github.com/classbuddy/ClassBuddyBack/internal/services"
	websocket "github.com/gofiber/contrib/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 16 * 1024
	sendBufSize    = 64
)

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type MessageSender interface {
	Send(ctx context.Context, actorID int64, conversationID int64, input services.SendMessageInput) (*models.ChatMessage, error)
}

type TypingSetter interface {
	SetTyping(ctx context.Context, actorID int64, conversationID int64, isTyping bool) models.TypingStatus
}

// Client is one realtime session subscribed to a single conversation.
type Client struct {
	hub            *Hub
	conn           Conn
	userID         int64
	conversationID int64
	send           chan []byte
	typingLimiter  *rate.Limiter
}

func NewClient(hub *Hub, conn Conn, userID, conversationID int64, typingLimiter *rate.Limiter) *Client {
	if typingLimiter == nil {
		typingLimiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Client{
		hub:            hub,
		conn:           conn,
		userID:         userID,
		conversationID: conversationID,
		send:           make(chan []byte, sendBufSize),
		typingLimiter:  typingLimiter,
	}
}

// SendTypingSnapshot delivers the typing states active when the session joined.
func (c *Client) SendTypingSnapshot(statuses []models.TypingStatus) {
	for _, status := range statuses {
		if status.UserID == c.userID {
			continue
		}
		payload, err := encodeTyping(status)
		if err != nil {
			continue
		}
		c.hub.SendTo(c, payload)
	}
}

// ReadPump blocks until the connection fails. On exit the session leaves the
// group and the user's typing flag is cleared for everyone else.
func (c *Client) ReadPump(sender MessageSender, typing TypingSetter) {
	defer func() {
		c.hub.Unregister(c)
		typing.SetTyping(context.Background(), c.userID, c.conversationID, false)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var incoming inboundEvent
		if err := json.Unmarshal(payload, &incoming); err != nil {
			log.Printf("chat ws: malformed payload user=%d conversation=%d: %v", c.userID, c.conversationID, err)
			c.writeError("invalid message payload")
			continue
		}

		switch incoming.Type {
		case "", EventMessage:
			c.handleMessage(sender, incoming)
		case EventTyping:
			c.handleTyping(typing, incoming)
		case EventPing:
			c.writeJSON(PongEvent{Type: EventPong})
		default:
			log.Printf("chat ws: unsupported event %q user=%d", incoming.Type, c.userID)
			c.writeError("unsupported message type")
		}
	}
}

func (c *Client) handleMessage(sender MessageSender, incoming inboundEvent) {
	_, err := sender.Send(context.Background(), c.userID, c.conversationID, services.SendMessageInput{
		Content:       incoming.text(),
		ReplyToID:     incoming.ReplyTo,
		AttachmentIDs: incoming.Attachments,
	})
	if err != nil {
		log.Printf("chat ws: send failed user=%d conversation=%d: %v", c.userID, c.conversationID, err)
		c.writeError(clientError(err))
	}
}

func (c *Client) handleTyping(typing TypingSetter, incoming inboundEvent) {
	if incoming.IsTyping == nil {
		c.writeError("is_typing is required")
		return
	}
	if *incoming.IsTyping && !c.typingLimiter.Allow() {
		metrics.TypingEvents.WithLabelValues("dropped").Inc()
		return
	}
	typing.SetTyping(context.Background(), c.userID, c.conversationID, *incoming.IsTyping)
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeError(message string) {
	c.writeJSON(ErrorEvent{Type: EventError, Error: message})
}

func (c *Client) writeJSON(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	c.hub.SendTo(c, payload)
}

func clientError(err error) string {
	switch {
	case errors.Is(err, services.ErrValidation):
		return err.Error()
	case errors.Is(err, services.ErrForbidden):
		return "forbidden"
	case errors.Is(err, services.ErrNotFound):
		return "conversation not found"
	default:
		return "failed to send message"
	}
}
