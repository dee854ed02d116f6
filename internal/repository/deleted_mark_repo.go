package repository

import "context"

// DeletedMarkRepository stores per-user conversation tombstones.
type DeletedMarkRepository struct {
	db DBTX
}

func NewDeletedMarkRepository(db DBTX) *DeletedMarkRepository {
	return &DeletedMarkRepository{db: db}
}

func (r *DeletedMarkRepository) Mark(ctx context.Context, conversationID, userID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO conversation_deletions (conversation_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, conversationID, userID)
	return err
}

func (r *DeletedMarkRepository) Clear(ctx context.Context, conversationID, userID int64) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM conversation_deletions
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	return err
}

func (r *DeletedMarkRepository) Exists(ctx context.Context, conversationID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_deletions
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID).Scan(&exists)
	return exists, err
}
