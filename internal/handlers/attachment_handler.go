package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/classbuddy/ClassBuddyBack/internal/models"
	"github.com/classbuddy/ClassBuddyBack/internal/services"
	"github.com/gofiber/fiber/v2"
)

type attachmentService interface {
	Upload(ctx context.Context, actorID int64, input services.UploadAttachmentInput) (*models.Attachment, error)
	Download(ctx context.Context, actorID int64, attachmentID int64) (*services.AttachmentDownload, error)
	Delete(ctx context.Context, actorID int64, attachmentID int64) error
}

type AttachmentHandler struct {
	service attachmentService
}

func NewAttachmentHandler(service attachmentService) *AttachmentHandler {
	return &AttachmentHandler{service: service}
}

func (h *AttachmentHandler) Upload(c *fiber.Ctx) error {
	userID, conversationID, ok := actorAndConversation(c)
	if !ok {
		return nil
	}

	var messageID *int64
	if raw := strings.TrimSpace(c.FormValue("message_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).
				JSON(fiber.Map{"error": "message_id must be a positive integer"})
		}
		messageID = &parsed
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "Failed to open file"})
	}
	defer file.Close()

	attachment, err := h.service.Upload(c.Context(), userID, services.UploadAttachmentInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		Filename:       fileHeader.Filename,
		Size:           fileHeader.Size,
		ContentType:    fileHeader.Header.Get("Content-Type"),
		Body:           file,
	})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"attachment": attachment})
}

func (h *AttachmentHandler) Download(c *fiber.Ctx) error {
	userID, attachmentID, ok := h.actorAndAttachment(c)
	if !ok {
		return nil
	}

	download, err := h.service.Download(c.Context(), userID, attachmentID)
	if err != nil {
		return mapChatError(c, err)
	}

	attachment := download.Attachment
	c.Set(fiber.HeaderContentType, attachment.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", attachment.Filename))
	size := int(attachment.Size)
	if size <= 0 {
		size = -1
	}
	// fasthttp closes the body once the response is written.
	return c.SendStream(download.Body, size)
}

func (h *AttachmentHandler) Delete(c *fiber.Ctx) error {
	userID, attachmentID, ok := h.actorAndAttachment(c)
	if !ok {
		return nil
	}

	if err := h.service.Delete(c.Context(), userID, attachmentID); err != nil {
		return mapChatError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AttachmentHandler) actorAndAttachment(c *fiber.Ctx) (int64, int64, bool) {
	userID, err := parseActorID(c)
	if err != nil {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		return 0, 0, false
	}

	attachmentID, ok := parseIDParam(c, "id")
	if !ok {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid attachment id"})
		return 0, 0, false
	}

	return userID, attachmentID, true
}
