package handlers

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/classbuddy/ClassBuddyBack/internal/middleware"
	"github.com/classbuddy/ClassBuddyBack/internal/models"
	"github.com/classbuddy/ClassBuddyBack/internal/services"
	chatws "github.com/classbuddy/ClassBuddyBack/internal/websocket"
	"github.com/classbuddy/ClassBuddyBack/pkg/utils"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

type conversationService interface {
	GetOrCreate(ctx context.Context, actorID int64, email string) (*models.ConversationSummary, bool, error)
	List(ctx context.Context, actorID int64) ([]models.ConversationSummary, error)
	Get(ctx context.Context, actorID int64, conversationID int64) (*models.ConversationSummary, error)
	SoftDelete(ctx context.Context, actorID int64, conversationID int64) error
	AddParticipant(ctx context.Context, actorID int64, conversationID int64, change services.ParticipantChange) (*models.ConversationSummary, error)
	RemoveParticipant(ctx context.Context, actorID int64, conversationID int64, change services.ParticipantChange) error
	CheckParticipant(ctx context.Context, actorID int64, conversationID int64) error
}

type messageService interface {
	Send(ctx context.Context, actorID int64, conversationID int64, input services.SendMessageInput) (*models.ChatMessage, error)
	List(ctx context.Context, actorID int64, conversationID int64) ([]models.ChatMessage, error)
	GetMessage(ctx context.Context, actorID int64, messageID int64) (*models.ChatMessage, error)
	MarkConversationRead(ctx context.Context, actorID int64, conversationID int64) (int64, error)
	MarkMessagesRead(ctx context.Context, actorID int64, messageIDs []int64) (int64, error)
	UnreadCount(ctx context.Context, actorID int64) (int, error)
	Search(ctx context.Context, actorID int64, conversationID int64, query string) ([]models.ChatMessage, error)
}

type presenceService interface {
	UpdateTyping(ctx context.Context, actorID int64, conversationID int64, isTyping bool) (*models.TypingStatus, error)
	SetTyping(ctx context.Context, actorID int64, conversationID int64, isTyping bool) models.TypingStatus
	ListTyping(ctx context.Context, actorID int64, conversationID int64) ([]models.TypingStatus, error)
	ActiveTyping(ctx context.Context, conversationID int64) []models.TypingStatus
}

// TypingLimit bounds typing events per realtime session.
type TypingLimit struct {
	Rate  float64
	Burst int
}

type ChatHandler struct {
	conversations conversationService
	messages      messageService
	presence      presenceService
	hub           *chatws.Hub
	jwtSecret     string
	typingLimit   TypingLimit
}

func NewChatHandler(
	conversations conversationService,
	messages messageService,
	presence presenceService,
	hub *chatws.Hub,
	jwtSecret string,
	typingLimit TypingLimit,
) *ChatHandler {
	return &ChatHandler{
		conversations: conversations,
		messages:      messages,
		presence:      presence,
		hub:           hub,
		jwtSecret:     jwtSecret,
		typingLimit:   typingLimit,
	}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversations, err := h.conversations.List(c.Context(), userID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversations": conversations})
}

func (h *ChatHandler) GetOrCreateConversation(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req getOrCreateConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.Email = strings.TrimSpace(req.Email)
	if msg := validateRequest(req); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	summary, created, err := h.conversations.GetOrCreate(c.Context(), userID, req.Email)
	if err != nil {
		return mapChatError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"conversation": summary.Projection()})
}

func (h *ChatHandler) GetConversation(c *fiber.Ctx) error {
	userID, conversationID, ok := actorAndConversation(c)
	if !ok {
		return nil
	}

	summary, err := h.conversations.Get(c.Context(), userID, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversation": summary})
}

func (h *ChatHandler) DeleteConversation(c *fiber.Ctx) error {
	userID, conversationID, ok := actorAndConversation(c)
	if !ok {
		return nil
	}

	if err := h.conversations.SoftDelete(c.Context(), userID, conversationID); err != nil {
		return mapChatError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) AddParticipant(c *fiber.Ctx) error {
	userID, conversationID, ok := actorAndConversation(c)
	if !ok {
		return nil
	}

	var req participantRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if msg := validateRequest(req); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	summary, err := h.conversations.AddParticipant(c.Context(), userID, conversationID, services.ParticipantChange{UserID: req.UserID})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversation": summary})
}

func (h *ChatHandler) RemoveParticipant(c *fiber.Ctx) error {
	userID, conversationID, ok := actorAndConversation(c)
	if !ok {
		return nil
	}

	targetID, ok := parseIDParam(c, "userId")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	if err := h.conversations.RemoveParticipant(c.Context(), userID, conversationID, services.ParticipantChange{UserID: targetID}); err != nil {
		return mapChatError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	userID, conversationID, ok := actorAndConversation(c)
	if !ok {
		return nil
	}

	messages, err := h.messages.List(c.Context(), userID, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"messages": messages})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userID, conversationID, ok := actorAndConversation(c)
	if !ok {
		return nil
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if msg := validateRequest(req); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	content := req.Content
	if content == "" {
		content = req.Message
	}

	message, err := h.messages.Send(c.Context(), userID, conversationID, services.SendMessageInput{
		Content:       content,
		ReplyToID:     req.ReplyTo,
		AttachmentIDs: req.Attachments,
	})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) MarkConversationRead(c *fiber.Ctx) error {
	userID, conversationID, ok := actorAndConversation(c)
	if !ok {
		return nil
	}

	updated, err := h.messages.MarkConversationRead(c.Context(), userID, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"updated": updated})
}

func (h *ChatHandler) SearchMessages(c *fiber.Ctx) error {
	userID, conversationID, ok := actorAndConversation(c)
	if !ok {
		return nil
	}

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "q is required"})
	}

	messages, err := h.messages.Search(c.Context(), userID, conversationID, query)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"messages": messages})
}

func (h *ChatHandler) MarkMessagesRead(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req markMessagesReadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if msg := validateRequest(req); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	updated, err := h.messages.MarkMessagesRead(c.Context(), userID, req.MessageIDs)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"updated": updated})
}

func (h *ChatHandler) GetMessage(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	messageID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	message, err := h.messages.GetMessage(c.Context(), userID, messageID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) UnreadCount(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	count, err := h.messages.UnreadCount(c.Context(), userID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"unread_count": count})
}

func (h *ChatHandler) ListTyping(c *fiber.Ctx) error {
	userID, conversationID, ok := actorAndConversation(c)
	if !ok {
		return nil
	}

	statuses, err := h.presence.ListTyping(c.Context(), userID, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"typing": statuses})
}

func (h *ChatHandler) UpdateTyping(c *fiber.Ctx) error {
	userID, conversationID, ok := actorAndConversation(c)
	if !ok {
		return nil
	}

	var req typingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if msg := validateRequest(req); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	status, err := h.presence.UpdateTyping(c.Context(), userID, conversationID, *req.IsTyping)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"typing": status})
}

// WebSocketAuth authenticates and checks membership before the upgrade so
// failures can still be answered with a plain HTTP status.
func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}
	c.Locals("user_id", claims.UserID)

	userID, err := parseActorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	if err := h.conversations.CheckParticipant(c.Context(), userID, conversationID); err != nil {
		return mapChatError(c, err)
	}

	c.Locals("actor_id", userID)
	c.Locals("conversation_id", conversationID)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("actor_id").(int64)
	conversationID, _ := conn.Locals("conversation_id").(int64)

	limiter := rate.NewLimiter(rate.Limit(h.typingLimit.Rate), h.typingLimit.Burst)
	if h.typingLimit.Rate <= 0 {
		limiter = nil
	}
	client := chatws.NewClient(h.hub, conn, userID, conversationID, limiter)

	h.hub.Register(client)
	client.SendTypingSnapshot(h.presence.ActiveTyping(context.Background(), conversationID))
	go client.WritePump()
	client.ReadPump(h.messages, h.presence)
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		if token, ok := middleware.BearerToken(c.Get("Authorization")); ok {
			tokenString = token
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

// actorAndConversation writes the error response itself when it reports false.
func actorAndConversation(c *fiber.Ctx) (int64, int64, bool) {
	userID, err := parseActorID(c)
	if err != nil {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		return 0, 0, false
	}

	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
		return 0, 0, false
	}

	return userID, conversationID, true
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrFileTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "File too large"})
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInvalidOperation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrStorageUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	default:
		log.Printf("chat request %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
