package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"realtime_go/internal/domain"
)

type CommunityRepo struct {
	db *sql.DB
}

func NewCommunityRepo(db *sql.DB) *CommunityRepo {
	return &CommunityRepo{db: db}
}

var _ domain.CommunityRepository = (*CommunityRepo)(nil)

func (r *CommunityRepo) ListCommunityMembers(ctx context.Context, communityID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT username FROM community_members
		WHERE community_id = $1
		ORDER BY username
	`, communityID)
	if err != nil {
		return nil, fmt.Errorf("list community members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, u)
	}
	return members, rows.Err()
}

func (r *CommunityRepo) AddCommunityMember(ctx context.Context, communityID, username string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO community_members (community_id, username)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, communityID, username)
	if err != nil {
		return fmt.Errorf("add community member: %w", err)
	}
	return nil
}
