package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"realtime_go/internal/domain"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL for the tables the realtime core reads and writes.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username     VARCHAR(50)  PRIMARY KEY,
			display_name VARCHAR(100) NOT NULL DEFAULT '',
			avatar_url   TEXT,
			is_online    BOOLEAN      NOT NULL DEFAULT FALSE,
			last_seen    TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id         VARCHAR(64)  PRIMARY KEY,
			sender     VARCHAR(50)  NOT NULL,
			recipient  VARCHAR(50)  NOT NULL,
			content    TEXT         NOT NULL,
			media_url  TEXT,
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			edited_at  TIMESTAMPTZ,
			is_deleted BOOLEAN      NOT NULL DEFAULT FALSE
		)`,

		`CREATE TABLE IF NOT EXISTS community_messages (
			id           VARCHAR(64)  PRIMARY KEY,
			community_id VARCHAR(64)  NOT NULL,
			sender       VARCHAR(50)  NOT NULL,
			content      TEXT         NOT NULL,
			media_url    TEXT,
			created_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS community_members (
			community_id VARCHAR(64) NOT NULL,
			username     VARCHAR(50) NOT NULL,
			joined_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (community_id, username)
		)`,

		`CREATE TABLE IF NOT EXISTS call_logs (
			id           BIGSERIAL    PRIMARY KEY,
			call_id      VARCHAR(64)  NOT NULL,
			caller       VARCHAR(50)  NOT NULL,
			receiver     VARCHAR(50)  NOT NULL DEFAULT '',
			community_id VARCHAR(64),
			status       VARCHAR(16)  NOT NULL,
			type         VARCHAR(8)   NOT NULL,
			duration     INTEGER      NOT NULL DEFAULT 0,
			created_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS push_tokens (
			username   VARCHAR(50)  NOT NULL,
			token      VARCHAR(255) NOT NULL,
			platform   VARCHAR(16)  NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			PRIMARY KEY (username, token)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_users_is_online ON users(is_online)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, recipient, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_community_messages_community ON community_messages(community_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_community_members_user ON community_members(username)`,
		`CREATE INDEX IF NOT EXISTS idx_call_logs_call ON call_logs(call_id)`,
		`CREATE INDEX IF NOT EXISTS idx_call_logs_receiver ON call_logs(receiver, created_at DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// Store implements domain.Store on PostgreSQL.
type Store struct {
	*UserRepo
	*MessageRepo
	*CallLogRepo
	*CommunityRepo
	*PushTokenRepo
}

var _ domain.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{
		UserRepo:      NewUserRepo(db),
		MessageRepo:   NewMessageRepo(db),
		CallLogRepo:   NewCallLogRepo(db),
		CommunityRepo: NewCommunityRepo(db),
		PushTokenRepo: NewPushTokenRepo(db),
	}
}
