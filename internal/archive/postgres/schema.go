// Package postgres provides a PostgreSQL-backed [archive.Store].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveTranscript(ctx, rec)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS session_transcripts (
    session_id   TEXT         PRIMARY KEY,
    mode         TEXT         NOT NULL,
    source_lang  TEXT         NOT NULL DEFAULT '',
    target_lang  TEXT         NOT NULL,
    media        TEXT         NOT NULL DEFAULT '',
    original     TEXT         NOT NULL DEFAULT '',
    translated   TEXT         NOT NULL DEFAULT '',
    latency      JSONB        NOT NULL DEFAULT '[]'::jsonb,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    finished_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_transcripts_finished_at
    ON session_transcripts (finished_at);
`

// Migrate creates the archive table if it does not exist. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
