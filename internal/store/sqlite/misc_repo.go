package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"realtime_go/internal/domain"
)

type CallLogRepo struct {
	db *sql.DB
}

var _ domain.CallLogRepository = (*CallLogRepo)(nil)

func (r *CallLogRepo) CreateCallLog(ctx context.Context, l *domain.CallLog) error {
	query := `
		INSERT INTO call_logs (call_id, caller, receiver, community_id, status, type, duration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		l.CallID, l.Caller, l.Receiver, l.CommunityID, string(l.Status), string(l.Type), l.Duration, l.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	l.ID = id
	return nil
}

type CommunityRepo struct {
	db *sql.DB
}

var _ domain.CommunityRepository = (*CommunityRepo)(nil)

func (r *CommunityRepo) ListCommunityMembers(ctx context.Context, communityID string) ([]string, error) {
	return queryStrings(ctx, r.db,
		`SELECT username FROM community_members WHERE community_id = ? ORDER BY username`, communityID)
}

func (r *CommunityRepo) AddCommunityMember(ctx context.Context, communityID, username string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO community_members (community_id, username) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		communityID, username)
	if err != nil {
		return fmt.Errorf("add community member: %w", err)
	}
	return nil
}

type PushTokenRepo struct {
	db *sql.DB
}

var _ domain.PushTokenRepository = (*PushTokenRepo)(nil)

func (r *PushTokenRepo) ListPushTokens(ctx context.Context, username string) ([]string, error) {
	return queryStrings(ctx, r.db,
		`SELECT token FROM push_tokens WHERE username = ? ORDER BY created_at, token`, username)
}

func (r *PushTokenRepo) AddPushToken(ctx context.Context, t *domain.PushToken) error {
	query := `
		INSERT INTO push_tokens (username, token, platform) VALUES (?, ?, ?)
		ON CONFLICT (username, token) DO UPDATE SET platform = excluded.platform
	`
	if _, err := r.db.ExecContext(ctx, query, t.Username, t.Token, t.Platform); err != nil {
		return fmt.Errorf("add push token: %w", err)
	}
	return nil
}

func (r *PushTokenRepo) RemovePushToken(ctx context.Context, username, token string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM push_tokens WHERE username = ? AND token = ?`, username, token); err != nil {
		return fmt.Errorf("remove push token: %w", err)
	}
	return nil
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
