package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"realtime_go/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

// CreateMessage inserts m. Re-inserting an id that already exists is a
// conflict, which callers treat as an already-persisted duplicate.
func (r *MessageRepo) CreateMessage(ctx context.Context, m *domain.Message) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender, recipient, content, media_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.Sender, m.Recipient, m.Content, m.MediaURL, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return conflictIfNone(res)
}

func (r *MessageRepo) UpdateMessage(ctx context.Context, id, sender, content string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET content = $1, edited_at = NOW()
		WHERE id = $2 AND sender = $3 AND NOT is_deleted
	`, content, id, sender)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return notFoundIfNone(res)
}

func (r *MessageRepo) DeleteMessage(ctx context.Context, id, sender string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_deleted = TRUE
		WHERE id = $1 AND sender = $2 AND NOT is_deleted
	`, id, sender)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return notFoundIfNone(res)
}

func (r *MessageRepo) CreateCommunityMessage(ctx context.Context, m *domain.CommunityMessage) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO community_messages (id, community_id, sender, content, media_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.CommunityID, m.Sender, m.Content, m.MediaURL, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert community message: %w", err)
	}
	return conflictIfNone(res)
}

func notFoundIfNone(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func conflictIfNone(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}
