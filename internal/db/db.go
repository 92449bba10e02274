package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"collab-service/internal/observability"
)

// Connect initializes the database connection and runs migrations.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
            id TEXT PRIMARY KEY,
            email TEXT,
            full_name TEXT
        );`,
	`CREATE TABLE IF NOT EXISTS collab_sessions (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            title TEXT NOT NULL,
            description TEXT,
            visibility TEXT NOT NULL DEFAULT 'public',
            access_code TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS collab_session_participants (
            id TEXT PRIMARY KEY,
            session_id TEXT NOT NULL REFERENCES collab_sessions(id) ON DELETE CASCADE,
            user_id TEXT NOT NULL,
            role TEXT,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(session_id, user_id)
        );`,
	`CREATE TABLE IF NOT EXISTS collab_messages (
            id TEXT PRIMARY KEY,
            session_id TEXT NOT NULL REFERENCES collab_sessions(id) ON DELETE CASCADE,
            user_id TEXT NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            image_url TEXT,
            image_path TEXT,
            client_id TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS collab_messages_session_created_idx ON collab_messages (session_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS collab_message_reactions (
            id TEXT PRIMARY KEY,
            message_id TEXT NOT NULL REFERENCES collab_messages(id) ON DELETE CASCADE,
            user_id TEXT NOT NULL,
            emoji TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE(message_id, user_id, emoji)
        );`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	observability.L().Info().Int("count", len(migrations)).Msg("database migrations applied")
	return nil
}
