package repository

import (
	"context"

	"github.com/classbuddy/ClassBuddyBack/internal/models"
)

type TypingRepository struct {
	db DBTX
}

func NewTypingRepository(db DBTX) *TypingRepository {
	return &TypingRepository{db: db}
}

// Upsert keeps at most one row per (conversation, user); the newest write wins.
func (r *TypingRepository) Upsert(ctx context.Context, status models.TypingStatus) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO typing_statuses (conversation_id, user_id, is_typing, last_activity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET is_typing = EXCLUDED.is_typing, last_activity = EXCLUDED.last_activity
		WHERE typing_statuses.last_activity <= EXCLUDED.last_activity
	`, status.ConversationID, status.UserID, status.IsTyping, status.LastActivity)
	return err
}

func (r *TypingRepository) ListByConversation(ctx context.Context, conversationID int64) ([]models.TypingStatus, error) {
	rows, err := r.db.Query(ctx, `
		SELECT conversation_id, user_id, is_typing, last_activity
		FROM typing_statuses
		WHERE conversation_id = $1
		ORDER BY last_activity DESC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statuses := make([]models.TypingStatus, 0)
	for rows.Next() {
		var status models.TypingStatus
		if err := rows.Scan(&status.ConversationID, &status.UserID, &status.IsTyping, &status.LastActivity); err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}

	return statuses, rows.Err()
}
