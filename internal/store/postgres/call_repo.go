package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"realtime_go/internal/domain"
)

type CallLogRepo struct {
	db *sql.DB
}

func NewCallLogRepo(db *sql.DB) *CallLogRepo {
	return &CallLogRepo{db: db}
}

var _ domain.CallLogRepository = (*CallLogRepo)(nil)

func (r *CallLogRepo) CreateCallLog(ctx context.Context, l *domain.CallLog) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO call_logs (call_id, caller, receiver, community_id, status, type, duration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, l.CallID, l.Caller, l.Receiver, l.CommunityID, l.Status, l.Type, l.Duration, l.CreatedAt).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	return nil
}
