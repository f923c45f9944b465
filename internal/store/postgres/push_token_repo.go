package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"realtime_go/internal/domain"
)

type PushTokenRepo struct {
	db *sql.DB
}

func NewPushTokenRepo(db *sql.DB) *PushTokenRepo {
	return &PushTokenRepo{db: db}
}

var _ domain.PushTokenRepository = (*PushTokenRepo)(nil)

func (r *PushTokenRepo) ListPushTokens(ctx context.Context, username string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT token FROM push_tokens WHERE username = $1 ORDER BY created_at`, username)
	if err != nil {
		return nil, fmt.Errorf("list push tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (r *PushTokenRepo) AddPushToken(ctx context.Context, t *domain.PushToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO push_tokens (username, token, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (username, token) DO UPDATE SET platform = EXCLUDED.platform
	`, t.Username, t.Token, t.Platform)
	if err != nil {
		return fmt.Errorf("add push token: %w", err)
	}
	return nil
}

func (r *PushTokenRepo) RemovePushToken(ctx context.Context, username, token string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM push_tokens WHERE username = $1 AND token = $2`, username, token); err != nil {
		return fmt.Errorf("remove push token: %w", err)
	}
	return nil
}
