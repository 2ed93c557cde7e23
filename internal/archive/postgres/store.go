package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lingolens/internal/archive"
	"github.com/MrWong99/lingolens/internal/latency"
)

var _ archive.Store = (*Store)(nil)

// Store archives session transcripts in a session_transcripts table.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, pings it, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SaveTranscript implements [archive.Store]. An existing record for the same
// session is replaced.
func (s *Store) SaveTranscript(ctx context.Context, rec archive.Record) error {
	reports := rec.Latency
	if reports == nil {
		reports = []latency.Report{}
	}
	lat, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("archive store: encode latency: %w", err)
	}

	const q = `
		INSERT INTO session_transcripts
		    (session_id, mode, source_lang, target_lang, media, original, translated, latency, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
		    original    = EXCLUDED.original,
		    translated  = EXCLUDED.translated,
		    latency     = EXCLUDED.latency,
		    finished_at = EXCLUDED.finished_at`

	_, err = s.pool.Exec(ctx, q,
		rec.SessionID,
		rec.Mode,
		rec.SourceLang,
		rec.TargetLang,
		rec.Media,
		rec.Original,
		rec.Translated,
		lat,
		rec.CreatedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("archive store: save transcript: %w", err)
	}
	return nil
}

// Transcript implements [archive.Store].
func (s *Store) Transcript(ctx context.Context, sessionID string) (archive.Record, error) {
	const q = `
		SELECT session_id, mode, source_lang, target_lang, media, original, translated, latency, created_at, finished_at
		FROM   session_transcripts
		WHERE  session_id = $1`

	var (
		rec archive.Record
		lat []byte
	)
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&rec.SessionID,
		&rec.Mode,
		&rec.SourceLang,
		&rec.TargetLang,
		&rec.Media,
		&rec.Original,
		&rec.Translated,
		&lat,
		&rec.CreatedAt,
		&rec.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Record{}, fmt.Errorf("archive store: %s: %w", sessionID, archive.ErrNotFound)
	}
	if err != nil {
		return archive.Record{}, fmt.Errorf("archive store: load transcript: %w", err)
	}
	if err := json.Unmarshal(lat, &rec.Latency); err != nil {
		return archive.Record{}, fmt.Errorf("archive store: decode latency: %w", err)
	}
	return rec, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
