package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/classbuddy/ClassBuddyBack/internal/models"
	"github.com/jackc/pgx/v5"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

type CreateMessageInput struct {
	ConversationID int64
	SenderID       int64
	Content        string
	ReplyToID      *int64
	AttachmentIDs  []int64
}

const messageSelect = `
	SELECT
		m.id, m.conversation_id, m.sender_id, u.name, u.email,
		m.content, m.is_read, m.created_at,
		r.id, r.sender_id, ru.name, ru.email, r.content, r.created_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id
	LEFT JOIN messages r ON r.id = m.reply_to_id
	LEFT JOIN users ru ON ru.id = r.sender_id
`

// Create inserts the message, links its attachments and bumps the
// conversation's updated_at in one transaction.
func (r *MessageRepository) Create(ctx context.Context, input CreateMessageInput) (*models.ChatMessage, error) {
	var message *models.ChatMessage

	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		var messageID int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO messages (conversation_id, sender_id, content, reply_to_id, is_read)
			VALUES ($1, $2, $3, $4, FALSE)
			RETURNING id
		`, input.ConversationID, input.SenderID, input.Content, input.ReplyToID).Scan(&messageID); err != nil {
			return err
		}

		if len(input.AttachmentIDs) > 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO message_attachments (message_id, attachment_id, position)
				SELECT $1, a.id, a.ord
				FROM unnest($2::bigint[]) WITH ORDINALITY AS a(id, ord)
				ON CONFLICT DO NOTHING
			`, messageID, input.AttachmentIDs); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE conversations
			SET updated_at = m.created_at
			FROM messages m
			WHERE m.id = $1 AND conversations.id = m.conversation_id
		`, messageID); err != nil {
			return err
		}

		created, err := scanMessage(tx.QueryRow(ctx, messageSelect+`WHERE m.id = $1`, messageID))
		if err != nil {
			return err
		}
		message = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	return message, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID int64) (*models.ChatMessage, error) {
	return scanMessage(r.db.QueryRow(ctx, messageSelect+`WHERE m.id = $1`, messageID))
}

func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
) ([]models.ChatMessage, error) {
	return r.list(ctx, messageSelect+`
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`, conversationID)
}

// Search matches content case-insensitively, newest first.
func (r *MessageRepository) Search(
	ctx context.Context,
	conversationID int64,
	query string,
) ([]models.ChatMessage, error) {
	return r.list(ctx, messageSelect+`
		WHERE m.conversation_id = $1
		  AND m.content ILIKE $2 ESCAPE '\'
		ORDER BY m.created_at DESC, m.id DESC
	`, conversationID, "%"+escapeLike(query)+"%")
}

func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND is_read = FALSE
	`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) MarkMessagesRead(
	ctx context.Context,
	messageIDs []int64,
	readerID int64,
) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE
		WHERE id = ANY($1)
		  AND sender_id <> $2
		  AND is_read = FALSE
	`, messageIDs, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountAccessible counts how many of messageIDs live in conversations userID participates in.
func (r *MessageRepository) CountAccessible(ctx context.Context, messageIDs []int64, userID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT m.id)
		FROM messages m
		JOIN conversation_participants p
		  ON p.conversation_id = m.conversation_id AND p.user_id = $2
		WHERE m.id = ANY($1)
	`, messageIDs, userID).Scan(&count)
	return count, err
}

func (r *MessageRepository) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversation_participants p
		  ON p.conversation_id = m.conversation_id AND p.user_id = $1
		WHERE m.sender_id <> $1
		  AND m.is_read = FALSE
		  AND NOT EXISTS (
			SELECT 1 FROM conversation_deletions d
			WHERE d.conversation_id = m.conversation_id AND d.user_id = $1
		)
	`, userID).Scan(&count)
	return count, err
}

func (r *MessageRepository) list(ctx context.Context, query string, args ...any) ([]models.ChatMessage, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func scanMessage(row pgx.Row) (*models.ChatMessage, error) {
	var message models.ChatMessage
	var sender models.UserSummary
	var replyID sql.NullInt64
	var replySenderID sql.NullInt64
	var replySenderName sql.NullString
	var replySenderEmail sql.NullString
	var replyContent sql.NullString
	var replyCreatedAt sql.NullTime

	if err := row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&sender.Name,
		&sender.Email,
		&message.Content,
		&message.IsRead,
		&message.CreatedAt,
		&replyID,
		&replySenderID,
		&replySenderName,
		&replySenderEmail,
		&replyContent,
		&replyCreatedAt,
	); err != nil {
		return nil, err
	}

	sender.ID = message.SenderID
	message.Sender = &sender
	message.Attachments = []models.Attachment{}

	if replyID.Valid {
		id := replyID.Int64
		message.ReplyToID = &id
		message.ReplyTo = &models.ReplyPreview{
			ID:       id,
			SenderID: replySenderID.Int64,
			Sender: &models.UserSummary{
				ID:    replySenderID.Int64,
				Name:  replySenderName.String,
				Email: replySenderEmail.String,
			},
			Content:   replyContent.String,
			Timestamp: replyCreatedAt.Time,
		}
	}

	return &message, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
