package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"strings"

	"github.com/classbuddy/ClassBuddyBack/internal/metrics"
	"github.com/classbuddy/ClassBuddyBack/internal/models"
	"github.com/classbuddy/ClassBuddyBack/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type attachmentStore interface {
	Create(ctx context.Context, input repository.CreateAttachmentInput) (*models.Attachment, error)
	GetByID(ctx context.Context, attachmentID int64) (*models.Attachment, error)
	LinkToMessage(ctx context.Context, attachmentID, messageID int64) error
	CanDelete(ctx context.Context, attachmentID, userID int64) (bool, error)
	CanAccess(ctx context.Context, attachmentID, userID int64) (bool, error)
	Delete(ctx context.Context, attachmentID int64) error
}

type messageReader interface {
	GetByID(ctx context.Context, messageID int64) (*models.ChatMessage, error)
}

type AttachmentService struct {
	conversations conversationReader
	messages      messageReader
	attachments   attachmentStore
	storage       StorageService
	maxSize       int64
}

type UploadAttachmentInput struct {
	ConversationID int64
	MessageID      *int64
	Filename       string
	Size           int64
	ContentType    string
	Body           io.Reader
}

// AttachmentDownload carries an open blob; the caller closes Body.
type AttachmentDownload struct {
	Attachment *models.Attachment
	Body       io.ReadCloser
}

func NewAttachmentService(
	conversations conversationReader,
	messages messageReader,
	attachments attachmentStore,
	storage StorageService,
	maxSize int64,
) *AttachmentService {
	return &AttachmentService{
		conversations: conversations,
		messages:      messages,
		attachments:   attachments,
		storage:       storage,
		maxSize:       maxSize,
	}
}

func (s *AttachmentService) Upload(ctx context.Context, actorID int64, input UploadAttachmentInput) (*models.Attachment, error) {
	if s.storage == nil {
		return nil, ErrStorageUnavailable
	}

	filename := strings.TrimSpace(filepath.Base(input.Filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, validationError("file name is required")
	}
	if input.Body == nil || input.Size <= 0 {
		return nil, validationError("file is empty")
	}
	if s.maxSize > 0 && input.Size > s.maxSize {
		return nil, ErrFileTooLarge
	}

	if _, err := loadForParticipant(ctx, s.conversations, input.ConversationID, actorID); err != nil {
		return nil, err
	}

	if input.MessageID != nil {
		message, err := s.messages.GetByID(ctx, *input.MessageID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, validationError("message_id does not exist")
			}
			return nil, err
		}
		if message.ConversationID != input.ConversationID {
			return nil, validationError("message_id belongs to another conversation")
		}
		if message.SenderID != actorID {
			return nil, ErrForbidden
		}
	}

	objectPath := path.Join(
		"attachments",
		fmt.Sprintf("%d", input.ConversationID),
		uuid.NewString()+strings.ToLower(filepath.Ext(filename)),
	)
	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	storageRef, err := s.storage.UploadFile(ctx, input.Body, objectPath, contentType)
	if err != nil {
		return nil, err
	}

	attachment, err := s.attachments.Create(ctx, repository.CreateAttachmentInput{
		ConversationID: input.ConversationID,
		UploaderID:     actorID,
		Filename:       filename,
		Size:           input.Size,
		ContentType:    contentType,
		StorageRef:     storageRef,
	})
	if err != nil {
		if deleteErr := s.storage.DeleteFile(ctx, storageRef); deleteErr != nil {
			log.Printf("attachment: cleanup blob %s: %v", storageRef, deleteErr)
		}
		return nil, err
	}

	if input.MessageID != nil {
		if err := s.attachments.LinkToMessage(ctx, attachment.ID, *input.MessageID); err != nil {
			return nil, err
		}
	}

	metrics.AttachmentBytes.Add(float64(input.Size))
	return attachment, nil
}

// Delete removes the metadata first; a blob that fails to delete is only logged.
func (s *AttachmentService) Delete(ctx context.Context, actorID int64, attachmentID int64) error {
	attachment, err := s.get(ctx, attachmentID)
	if err != nil {
		return err
	}

	allowed, err := s.attachments.CanDelete(ctx, attachmentID, actorID)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}

	if err := s.attachments.Delete(ctx, attachmentID); err != nil {
		return err
	}

	if s.storage != nil && attachment.StorageRef != "" {
		if err := s.storage.DeleteFile(ctx, attachment.StorageRef); err != nil {
			log.Printf("attachment: delete blob %s: %v", attachment.StorageRef, err)
		}
	}

	return nil
}

func (s *AttachmentService) Download(ctx context.Context, actorID int64, attachmentID int64) (*AttachmentDownload, error) {
	attachment, err := s.get(ctx, attachmentID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.attachments.CanAccess(ctx, attachmentID, actorID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrForbidden
	}
	if s.storage == nil {
		return nil, ErrStorageUnavailable
	}

	body, err := s.storage.OpenFile(ctx, attachment.StorageRef)
	if err != nil {
		return nil, err
	}

	return &AttachmentDownload{Attachment: attachment, Body: body}, nil
}

func (s *AttachmentService) get(ctx context.Context, attachmentID int64) (*models.Attachment, error) {
	if attachmentID <= 0 {
		return nil, ErrAttachmentNotFound
	}

	attachment, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttachmentNotFound
		}
		return nil, err
	}
	return attachment, nil
}
