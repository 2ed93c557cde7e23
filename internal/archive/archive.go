// Package archive persists the final transcript of completed sessions.
//
// Archiving is optional: the session manager only writes records when a
// [Store] is configured.
package archive

import (
	"context"
	"time"

	"github.com/MrWong99/lingolens/internal/latency"
)

// Record is one archived session transcript.
type Record struct {
	SessionID  string
	Mode       string
	SourceLang string
	TargetLang string
	Media      string

	// Original is the recognized full-track text; Translated its translation.
	Original   string
	Translated string

	// Latency is the per-stage summary at the time the session finished.
	Latency []latency.Report

	CreatedAt  time.Time
	FinishedAt time.Time
}

// Store saves and loads archived transcripts. Implementations must be safe
// for concurrent use.
type Store interface {
	// SaveTranscript writes rec. Saving the same session id twice replaces
	// the earlier record.
	SaveTranscript(ctx context.Context, rec Record) error

	// Transcript returns the record for sessionID, or an error wrapping
	// [ErrNotFound].
	Transcript(ctx context.Context, sessionID string) (Record, error)
}
