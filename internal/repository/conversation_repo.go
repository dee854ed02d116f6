package repository

import (
	"context"
	"database/sql"

	"github.com/classbuddy/ClassBuddyBack/internal/models"
	"github.com/jackc/pgx/v5"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const participantIDsColumn = `
	ARRAY(
		SELECT p.user_id
		FROM conversation_participants p
		WHERE p.conversation_id = c.id
		ORDER BY p.joined_at, p.user_id
	)`

func (r *ConversationRepository) Create(
	ctx context.Context,
	participantIDs []int64,
) (*models.Conversation, error) {
	var conversation models.Conversation

	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO conversations DEFAULT VALUES
			RETURNING id, created_at, updated_at
		`).Scan(&conversation.ID, &conversation.CreatedAt, &conversation.UpdatedAt); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id)
			SELECT $1, p.user_id
			FROM unnest($2::bigint[]) AS p(user_id)
			ON CONFLICT DO NOTHING
		`, conversation.ID, participantIDs)
		return err
	})
	if err != nil {
		return nil, err
	}

	conversation.ParticipantIDs = participantIDs
	return &conversation, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `
		SELECT c.id, c.created_at, c.updated_at,` + participantIDsColumn + `
		FROM conversations c
		WHERE c.id = $1
	`

	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, conversationID).Scan(
		&conversation.ID,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
		&conversation.ParticipantIDs,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}

// FindPair returns the most recently updated two-party conversation between
// userID and otherUserID whose deletion state for userID matches deletedByUser.
func (r *ConversationRepository) FindPair(
	ctx context.Context,
	userID int64,
	otherUserID int64,
	deletedByUser bool,
) (*models.Conversation, error) {
	query := `
		SELECT c.id, c.created_at, c.updated_at,` + participantIDsColumn + `
		FROM conversations c
		WHERE EXISTS (
			SELECT 1 FROM conversation_participants p
			WHERE p.conversation_id = c.id AND p.user_id = $1
		)
		  AND EXISTS (
			SELECT 1 FROM conversation_participants p
			WHERE p.conversation_id = c.id AND p.user_id = $2
		)
		  AND (
			SELECT COUNT(*) FROM conversation_participants p
			WHERE p.conversation_id = c.id
		) = 2
		  AND EXISTS (
			SELECT 1 FROM conversation_deletions d
			WHERE d.conversation_id = c.id AND d.user_id = $1
		) = $3
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT 1
	`

	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, userID, otherUserID, deletedByUser).Scan(
		&conversation.ID,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
		&conversation.ParticipantIDs,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}

func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
) ([]models.ConversationSummary, error) {
	rows, err := r.db.Query(ctx, summaryQuery(`
		WHERE NOT EXISTS (
			SELECT 1 FROM conversation_deletions d
			WHERE d.conversation_id = c.id AND d.user_id = $1
		)
	`), participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

// GetSummary returns the full projection of one conversation as seen by viewerID.
func (r *ConversationRepository) GetSummary(
	ctx context.Context,
	conversationID int64,
	viewerID int64,
) (*models.ConversationSummary, error) {
	return scanSummary(r.db.QueryRow(ctx, summaryQuery(`WHERE c.id = $2`), viewerID, conversationID))
}

func (r *ConversationRepository) AddParticipant(ctx context.Context, conversationID, userID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, conversationID, userID)
	return err
}

func (r *ConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID int64) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	return err
}

func summaryQuery(where string) string {
	return `
		SELECT
			c.id,` + participantIDsColumn + `,
			c.created_at,
			c.updated_at,
			lm.id,
			lm.sender_id,
			lm.sender_name,
			lm.sender_email,
			lm.content,
			lm.is_read,
			lm.created_at,
			COALESCE(uc.unread_count, 0)
		FROM conversations c
		JOIN conversation_participants me
		  ON me.conversation_id = c.id AND me.user_id = $1
		LEFT JOIN LATERAL (
			SELECT m.id, m.sender_id, u.name AS sender_name, u.email AS sender_email,
			       m.content, m.is_read, m.created_at
			FROM messages m
			JOIN users u ON u.id = m.sender_id
			WHERE m.conversation_id = c.id
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM messages
			WHERE conversation_id = c.id
			  AND sender_id <> $1
			  AND is_read = FALSE
		) uc ON TRUE
		` + where + `
		ORDER BY c.updated_at DESC, c.id DESC
	`
}

func scanSummary(row pgx.Row) (*models.ConversationSummary, error) {
	var summary models.ConversationSummary
	var messageID sql.NullInt64
	var messageSenderID sql.NullInt64
	var messageSenderName sql.NullString
	var messageSenderEmail sql.NullString
	var messageContent sql.NullString
	var messageIsRead sql.NullBool
	var messageCreatedAt sql.NullTime

	if err := row.Scan(
		&summary.ID,
		&summary.ParticipantIDs,
		&summary.CreatedAt,
		&summary.UpdatedAt,
		&messageID,
		&messageSenderID,
		&messageSenderName,
		&messageSenderEmail,
		&messageContent,
		&messageIsRead,
		&messageCreatedAt,
		&summary.UnreadCount,
	); err != nil {
		return nil, err
	}

	if messageID.Valid {
		summary.LastMessage = &models.ChatMessage{
			ID:             messageID.Int64,
			ConversationID: summary.ID,
			SenderID:       messageSenderID.Int64,
			Sender: &models.UserSummary{
				ID:    messageSenderID.Int64,
				Name:  messageSenderName.String,
				Email: messageSenderEmail.String,
			},
			Content:     messageContent.String,
			IsRead:      messageIsRead.Bool,
			Attachments: []models.Attachment{},
			CreatedAt:   messageCreatedAt.Time,
		}
	}

	return &summary, nil
}
