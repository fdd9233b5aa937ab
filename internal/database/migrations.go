package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

type migration struct {
	version string
	up      string
}

var migrations = []migration{
	{version: "001_study_buddy_sessions", up: `
CREATE TABLE IF NOT EXISTS study_buddy_sessions (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    items JSONB NOT NULL DEFAULT '[]'::jsonb,
    state TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ,
    started_at TIMESTAMPTZ,
    ended_at TIMESTAMPTZ,
    duration_minutes INTEGER,
    ai_plan_id TEXT,
    xp_earned INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT valid_state CHECK (state IN ('pending', 'started', 'completed', 'cancelled')),
    CONSTRAINT valid_duration CHECK (duration_minutes IS NULL OR duration_minutes >= 0),
    CONSTRAINT valid_xp CHECK (xp_earned >= 0)
);

CREATE INDEX IF NOT EXISTS idx_study_sessions_user_created
    ON study_buddy_sessions(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_study_sessions_open
    ON study_buddy_sessions(created_at) WHERE state IN ('pending', 'started');
`},
	{version: "002_user_xp_events", up: `
CREATE TABLE IF NOT EXISTS user_xp_events (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    source TEXT NOT NULL,
    points INTEGER NOT NULL,
    reason TEXT NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_points CHECK (points >= 0)
);

CREATE INDEX IF NOT EXISTS idx_xp_events_user_source_created
    ON user_xp_events(user_id, source, created_at);

-- One award per (user, source, reason, session). Rows without a session_id
-- produce NULL keys and never collide.
CREATE UNIQUE INDEX IF NOT EXISTS uq_xp_events_session
    ON user_xp_events(user_id, source, reason, (metadata->>'session_id'));
`},
}

// Migrate applies the schema. Every statement is idempotent, so it is safe to
// run on each boot.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		if err := db.GetContext(ctx, &applied,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version); err != nil {
			return fmt.Errorf("check migration %s: %w", m.version, err)
		}
		if applied {
			continue
		}

		err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
		log.Info().Str("version", m.version).Msg("migration applied")
	}

	return nil
}
