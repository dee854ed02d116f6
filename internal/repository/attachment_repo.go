package repository

import (
	"context"

	"github.com/classbuddy/ClassBuddyBack/internal/models"
)

type AttachmentRepository struct {
	db DBTX
}

func NewAttachmentRepository(db DBTX) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

type CreateAttachmentInput struct {
	ConversationID int64
	UploaderID     int64
	Filename       string
	Size           int64
	ContentType    string
	StorageRef     string
}

const attachmentColumns = `
	a.id, a.conversation_id, a.filename, a.size_bytes, a.content_type, a.uploader_id, a.storage_ref, a.created_at`

func (r *AttachmentRepository) Create(ctx context.Context, input CreateAttachmentInput) (*models.Attachment, error) {
	query := `
		INSERT INTO attachments (conversation_id, uploader_id, filename, size_bytes, content_type, storage_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	attachment := models.Attachment{
		ConversationID: input.ConversationID,
		UploaderID:     input.UploaderID,
		Filename:       input.Filename,
		Size:           input.Size,
		ContentType:    input.ContentType,
		StorageRef:     input.StorageRef,
	}
	err := r.db.QueryRow(ctx, query,
		input.ConversationID,
		input.UploaderID,
		input.Filename,
		input.Size,
		input.ContentType,
		input.StorageRef,
	).Scan(&attachment.ID, &attachment.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &attachment, nil
}

func (r *AttachmentRepository) GetByID(ctx context.Context, attachmentID int64) (*models.Attachment, error) {
	var attachment models.Attachment
	err := r.db.QueryRow(ctx, `SELECT `+attachmentColumns+` FROM attachments a WHERE a.id = $1`, attachmentID).Scan(
		&attachment.ID,
		&attachment.ConversationID,
		&attachment.Filename,
		&attachment.Size,
		&attachment.ContentType,
		&attachment.UploaderID,
		&attachment.StorageRef,
		&attachment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &attachment, nil
}

func (r *AttachmentRepository) LinkToMessage(ctx context.Context, attachmentID, messageID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO message_attachments (message_id, attachment_id, position)
		SELECT $1, $2, COALESCE(MAX(position), 0) + 1
		FROM message_attachments
		WHERE message_id = $1
		ON CONFLICT DO NOTHING
	`, messageID, attachmentID)
	return err
}

// ListByMessages groups the attachments of messageIDs by message id, in attach order.
func (r *AttachmentRepository) ListByMessages(ctx context.Context, messageIDs []int64) (map[int64][]models.Attachment, error) {
	result := make(map[int64][]models.Attachment)
	if len(messageIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT ma.message_id,`+attachmentColumns+`
		FROM message_attachments ma
		JOIN attachments a ON a.id = ma.attachment_id
		WHERE ma.message_id = ANY($1)
		ORDER BY ma.message_id, ma.position, a.id
	`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var messageID int64
		var attachment models.Attachment
		if err := rows.Scan(
			&messageID,
			&attachment.ID,
			&attachment.ConversationID,
			&attachment.Filename,
			&attachment.Size,
			&attachment.ContentType,
			&attachment.UploaderID,
			&attachment.StorageRef,
			&attachment.CreatedAt,
		); err != nil {
			return nil, err
		}
		result[messageID] = append(result[messageID], attachment)
	}

	return result, rows.Err()
}

// CountOwned counts attachments in ids uploaded by uploaderID into conversationID.
func (r *AttachmentRepository) CountOwned(ctx context.Context, ids []int64, uploaderID, conversationID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT id)
		FROM attachments
		WHERE id = ANY($1) AND uploader_id = $2 AND conversation_id = $3
	`, ids, uploaderID, conversationID).Scan(&count)
	return count, err
}

// CanDelete reports whether userID uploaded the attachment or sent a message carrying it.
func (r *AttachmentRepository) CanDelete(ctx context.Context, attachmentID, userID int64) (bool, error) {
	var allowed bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attachments WHERE id = $1 AND uploader_id = $2
		) OR EXISTS (
			SELECT 1
			FROM message_attachments ma
			JOIN messages m ON m.id = ma.message_id
			WHERE ma.attachment_id = $1 AND m.sender_id = $2
		)
	`, attachmentID, userID).Scan(&allowed)
	return allowed, err
}

// CanAccess reports whether userID participates in a conversation the attachment belongs to.
func (r *AttachmentRepository) CanAccess(ctx context.Context, attachmentID, userID int64) (bool, error) {
	var allowed bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM attachments a
			JOIN conversation_participants p
			  ON p.conversation_id = a.conversation_id AND p.user_id = $2
			WHERE a.id = $1
		) OR EXISTS (
			SELECT 1
			FROM message_attachments ma
			JOIN messages m ON m.id = ma.message_id
			JOIN conversation_participants p
			  ON p.conversation_id = m.conversation_id AND p.user_id = $2
			WHERE ma.attachment_id = $1
		)
	`, attachmentID, userID).Scan(&allowed)
	return allowed, err
}

func (r *AttachmentRepository) Delete(ctx context.Context, attachmentID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, attachmentID)
	return err
}
