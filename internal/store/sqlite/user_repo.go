package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"realtime_go/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) GetUser(ctx context.Context, username string) (*domain.User, error) {
	u := &domain.User{}
	var lastSeen sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT username, display_name, avatar_url, is_online, last_seen FROM users WHERE username = ?`,
		username,
	).Scan(&u.Username, &u.DisplayName, &u.AvatarURL, &u.IsOnline, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.LastSeen = lastSeen.Time
	return u, nil
}

func (r *UserRepo) UpsertUser(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (username, display_name, avatar_url)
		VALUES (?, ?, ?)
		ON CONFLICT (username) DO UPDATE
		SET display_name = excluded.display_name, avatar_url = excluded.avatar_url
	`
	if _, err := r.db.ExecContext(ctx, query, u.Username, u.DisplayName, u.AvatarURL); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (r *UserRepo) SetOnlineStatus(ctx context.Context, username string, isOnline bool) error {
	val := 0
	if isOnline {
		val = 1
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET is_online = ? WHERE username = ?`, val, username); err != nil {
		return fmt.Errorf("set online status: %w", err)
	}
	return nil
}

func (r *UserRepo) SetLastSeen(ctx context.Context, username string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen = ? WHERE username = ?`, at.UTC(), username); err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	return nil
}
