package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

type getOrCreateConversationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type participantRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

type sendMessageRequest struct {
	Content     string  `json:"content"`
	Message     string  `json:"message"`
	ReplyTo     *int64  `json:"reply_to" validate:"omitempty,gt=0"`
	Attachments []int64 `json:"attachments" validate:"omitempty,dive,gt=0"`
}

type markMessagesReadRequest struct {
	MessageIDs []int64 `json:"message_ids" validate:"required,min=1,dive,gt=0"`
}

type typingRequest struct {
	IsTyping *bool `json:"is_typing" validate:"required"`
}

// validateRequest returns the first rule violation as a readable message, or "".
func validateRequest(req any) string {
	err := validate.Struct(req)
	if err == nil {
		return ""
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return "Invalid request"
	}

	field := jsonFieldName(errs[0].Field())
	switch errs[0].Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must contain at least %s item", field, errs[0].Param())
	case "gt":
		return field + " must be greater than 0"
	default:
		return field + " is invalid"
	}
}

func jsonFieldName(field string) string {
	switch field {
	case "UserID":
		return "user_id"
	case "ReplyTo":
		return "reply_to"
	case "MessageIDs":
		return "message_ids"
	case "IsTyping":
		return "is_typing"
	default:
		if i := strings.Index(field, "["); i >= 0 {
			field = field[:i]
		}
		return strings.ToLower(field)
	}
}

func parseActorID(c *fiber.Ctx) (int64, error) {
	userIDValue := c.Locals("user_id")
	userIDStr, ok := userIDValue.(string)
	if !ok {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(userIDStr, 10, 64)
}

func parseIDParam(c *fiber.Ctx, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
