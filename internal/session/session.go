// Package session holds the per-session state shared by the file and live
// pipelines: identity, language pair, lifecycle status, the temp-artifact
// ledger, and the latency tracker.
//
// A Session is created by the session manager, handed to the pipelines that
// run on its behalf, and swept by [Session.Close] on every exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/lingolens/internal/latency"
	"github.com/MrWong99/lingolens/internal/tempres"
	"github.com/MrWong99/lingolens/pkg/lang"
)

// Mode selects the pipeline a session runs.
type Mode string

const (
	// ModeFile processes an uploaded media file: paced frame overlay plus
	// segmented audio transcription.
	ModeFile Mode = "file"

	// ModeLive processes frames and audio chunks pushed by the observer, and
	// optionally a server-side capture device.
	ModeLive Mode = "live"
)

// Request describes a session to start. It is the payload of the observer's
// start command.
type Request struct {
	Mode       Mode   `json:"mode"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`

	// Media is the file path (file mode) or optional capture ref (live mode).
	Media string `json:"media,omitempty"`
}

// Validate checks the mode, the language pair, and that file sessions name
// their media.
func (r Request) Validate() error {
	var errs []error
	switch r.Mode {
	case ModeFile:
		if r.Media == "" {
			errs = append(errs, errors.New("session: file mode requires media"))
		}
	case ModeLive:
	default:
		errs = append(errs, fmt.Errorf("session: unknown mode %q", r.Mode))
	}
	if err := lang.ValidatePair(r.SourceLang, r.TargetLang); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Status is the lifecycle state of a session.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusStopping
	StatusStopped
	StatusFailed
)

// String returns the lowercase name of s.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// ErrNotFound is returned by session registries for unknown ids.
var ErrNotFound = errors.New("session: not found")

// ErrInvalidTransition is returned by [Session.Transition] for moves the
// lifecycle does not allow.
var ErrInvalidTransition = errors.New("session: invalid status transition")

// transitions lists the allowed moves. Terminal states have none.
var transitions = map[Status][]Status{
	StatusIdle:     {StatusRunning, StatusStopped, StatusFailed},
	StatusRunning:  {StatusStopping, StatusStopped, StatusFailed},
	StatusStopping: {StatusStopped, StatusFailed},
}

// Session is the state of one translation session. Identity and language
// fields are immutable after [New]; status is guarded by a mutex.
type Session struct {
	ID         string
	Mode       Mode
	SourceLang string
	TargetLang string
	Media      string
	CreatedAt  time.Time

	// Ledger owns every temp artifact created on behalf of the session.
	Ledger *tempres.Ledger

	// Tracker records per-stage latency for the session.
	Tracker *latency.Tracker

	mu     sync.Mutex
	status Status
	err    error
	cancel context.CancelFunc

	finalSent atomic.Bool
}

// New validates req and allocates a session with a fresh id, a ledger rooted
// under baseDir, and a latency tracker built from opts.
func New(req Request, baseDir string, opts ...latency.Option) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ledger, err := tempres.New(baseDir, id)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &Session{
		ID:         id,
		Mode:       req.Mode,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Media:      req.Media,
		CreatedAt:  time.Now(),
		Ledger:     ledger,
		Tracker:    latency.New(opts...),
	}, nil
}

// Start moves the session to running and returns a context that is cancelled
// by [Session.Stop].
func (s *Session) Start(parent context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StatusRunning); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	return ctx, nil
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the failure recorded by [Session.Fail], if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Transition moves the session to next, enforcing the lifecycle.
func (s *Session) Transition(next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(next)
}

func (s *Session) transitionLocked(next Status) error {
	for _, allowed := range transitions[s.status] {
		if allowed == next {
			s.status = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, next)
}

// Stop requests cancellation. It is a no-op once the session is stopping or
// terminal, and reports whether this call initiated the stop.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case StatusIdle:
		s.status = StatusStopped
	case StatusRunning:
		s.status = StatusStopping
	default:
		return false
	}
	if s.cancel != nil {
		s.cancel()
	}
	return true
}

// Finish records normal completion. A failed session stays failed.
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.Terminal() {
		s.status = StatusStopped
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Fail records err as the reason the session ended. Only the first failure
// is kept.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = StatusFailed
	s.err = err
	if s.cancel != nil {
		s.cancel()
	}
}

// MarkFinal claims the right to emit the session's final transcript. It
// returns true exactly once.
func (s *Session) MarkFinal() bool {
	return s.finalSent.CompareAndSwap(false, true)
}

// Close sweeps the session's temp artifacts. Safe to call more than once.
func (s *Session) Close() error {
	return s.Ledger.Sweep()
}
