package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"realtime_go/internal/domain"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// Migrate creates the realtime tables. Statements are idempotent.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			avatar_url TEXT DEFAULT NULL,
			is_online BOOLEAN NOT NULL DEFAULT 0,
			last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			content TEXT NOT NULL,
			media_url TEXT DEFAULT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			edited_at DATETIME DEFAULT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS community_messages (
			id TEXT PRIMARY KEY,
			community_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			media_url TEXT DEFAULT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS community_members (
			community_id TEXT NOT NULL,
			username TEXT NOT NULL,
			joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (community_id, username)
		);`,
		`CREATE TABLE IF NOT EXISTS call_logs (
			id INTEGER PRIMARY KEY,
			call_id TEXT NOT NULL,
			caller TEXT NOT NULL,
			receiver TEXT NOT NULL DEFAULT '',
			community_id TEXT DEFAULT NULL,
			status TEXT NOT NULL,
			type TEXT NOT NULL,
			duration INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS push_tokens (
			username TEXT NOT NULL,
			token TEXT NOT NULL,
			platform TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (username, token)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_is_online ON users(is_online);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, recipient, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_community_messages_community ON community_messages(community_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_community_members_user ON community_members(username);`,
		`CREATE INDEX IF NOT EXISTS idx_call_logs_call ON call_logs(call_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Store implements domain.Store on SQLite.
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
		UserRepo:      &UserRepo{db: db},
		MessageRepo:   &MessageRepo{db: db},
		CallLogRepo:   &CallLogRepo{db: db},
		CommunityRepo: &CommunityRepo{db: db},
		PushTokenRepo: &PushTokenRepo{db: db},
	}
}
