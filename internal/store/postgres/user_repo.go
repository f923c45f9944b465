package postgres

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

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) GetUser(ctx context.Context, username string) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, `
		SELECT username, display_name, avatar_url, is_online, last_seen
		FROM users WHERE username = $1
	`, username).Scan(&u.Username, &u.DisplayName, &u.AvatarURL, &u.IsOnline, &u.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *UserRepo) UpsertUser(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, display_name, avatar_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE
		SET display_name = EXCLUDED.display_name, avatar_url = EXCLUDED.avatar_url
	`, u.Username, u.DisplayName, u.AvatarURL)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (r *UserRepo) SetOnlineStatus(ctx context.Context, username string, isOnline bool) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_online = $1 WHERE username = $2`, isOnline, username); err != nil {
		return fmt.Errorf("set online status: %w", err)
	}
	return nil
}

func (r *UserRepo) SetLastSeen(ctx context.Context, username string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_seen = $1 WHERE username = $2`, at, username); err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	return nil
}
