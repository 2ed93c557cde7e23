package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/lingolens/internal/observe"
	"github.com/MrWong99/lingolens/pkg/media"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ReconnectConfig configures how a dropped capture source is reopened.
type ReconnectConfig struct {
	// MaxRetries bounds the reopen attempts per drop, and the number of
	// consecutive drops without a single frame in between. Defaults to 10.
	MaxRetries int

	// Backoff is the initial wait after a failed reopen. It doubles each
	// attempt up to MaxBackoff. Defaults to 1s.
	Backoff time.Duration

	// MaxBackoff caps the wait. Defaults to 30s.
	MaxBackoff time.Duration
}

func (c ReconnectConfig) withDefaults() ReconnectConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// reconnectingOpener opens capture sources that survive drops: when the
// underlying source fails or ends, it is reopened with exponential backoff.
// Live capture has no natural end, so an end of stream is treated as a drop.
type reconnectingOpener struct {
	opener media.Opener
	cfg    ReconnectConfig
	sleep  func(context.Context, time.Duration) error
}

var _ media.Opener = (*reconnectingOpener)(nil)

func (o *reconnectingOpener) Open(ctx context.Context, ref string) (media.Source, error) {
	src, err := o.opener.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &reconnectingSource{opener: o, ref: ref, src: src}, nil
}

// reconnectingSource renumbers frames across reopens so that Seq keeps
// increasing.
type reconnectingSource struct {
	opener *reconnectingOpener
	ref    string

	mu     sync.Mutex
	src    media.Source
	seq    int
	closed bool
}

func (s *reconnectingSource) Info() media.VideoInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Info()
}

func (s *reconnectingSource) Next(ctx context.Context) (media.Frame, error) {
	drops := 0
	for {
		s.mu.Lock()
		src := s.src
		s.mu.Unlock()

		frame, err := src.Next(ctx)
		if err == nil {
			s.mu.Lock()
			s.seq++
			frame.Seq = s.seq
			s.mu.Unlock()
			return frame, nil
		}
		if ctx.Err() != nil || drops >= s.opener.cfg.MaxRetries {
			return media.Frame{}, err
		}
		drops++
		observe.Logger(ctx).Warn("live: capture dropped", "ref", s.ref, "drops", drops, "err", err)
		if rerr := s.reconnect(ctx); rerr != nil {
			return media.Frame{}, rerr
		}
	}
}

// reconnect reopens the source with exponential backoff, replacing and
// closing the failed one on success.
func (s *reconnectingSource) reconnect(ctx context.Context) error {
	cfg := s.opener.cfg
	backoff := cfg.Backoff
	log := observe.Logger(ctx)

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Info("live: reopening capture", "ref", s.ref, "attempt", attempt, "max_retries", cfg.MaxRetries)

		src, err := s.opener.opener.Open(ctx, s.ref)
		if err == nil {
			s.mu.Lock()
			old := s.src
			s.src = src
			closed := s.closed
			s.mu.Unlock()

			if old != nil && old != src {
				_ = old.Close()
			}
			if closed {
				_ = src.Close()
				return fmt.Errorf("live: capture closed during reconnect")
			}
			log.Info("live: capture reopened", "ref", s.ref, "attempt", attempt)
			return nil
		}
		lastErr = err
		log.Warn("live: reopen failed", "ref", s.ref, "attempt", attempt, "err", err)

		if err := s.opener.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, cfg.MaxBackoff)
	}
	return fmt.Errorf("live: reopen %s failed after %d attempts: %w", s.ref, cfg.MaxRetries, lastErr)
}

func (s *reconnectingSource) Close() error {
	s.mu.Lock()
	src := s.src
	s.closed = true
	s.mu.Unlock()
	return src.Close()
}
