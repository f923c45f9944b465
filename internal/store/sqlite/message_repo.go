package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"realtime_go/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) CreateMessage(ctx context.Context, m *domain.Message) error {
	query := `
		INSERT INTO messages (id, sender, recipient, content, media_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, m.ID, m.Sender, m.Recipient, m.Content, m.MediaURL, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return expectRow(res, domain.ErrConflict)
}

func (r *MessageRepo) UpdateMessage(ctx context.Context, id, sender, content string) error {
	query := `
		UPDATE messages SET content = ?, edited_at = CURRENT_TIMESTAMP
		WHERE id = ? AND sender = ? AND is_deleted = 0
	`
	res, err := r.db.ExecContext(ctx, query, content, id, sender)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return expectRow(res, domain.ErrNotFound)
}

func (r *MessageRepo) DeleteMessage(ctx context.Context, id, sender string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_deleted = 1 WHERE id = ? AND sender = ? AND is_deleted = 0`, id, sender)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return expectRow(res, domain.ErrNotFound)
}

func (r *MessageRepo) CreateCommunityMessage(ctx context.Context, m *domain.CommunityMessage) error {
	query := `
		INSERT INTO community_messages (id, community_id, sender, content, media_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, m.ID, m.CommunityID, m.Sender, m.Content, m.MediaURL, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert community message: %w", err)
	}
	return expectRow(res, domain.ErrConflict)
}

// expectRow returns errNone when the statement touched no row.
func expectRow(res sql.Result, errNone error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errNone
	}
	return nil
}
