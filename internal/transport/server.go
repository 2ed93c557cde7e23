// Package transport exposes translation sessions to observers.
//
// Observers connect to GET /ws and drive sessions with JSON commands; every
// pipeline event is pushed back over the same connection. A handful of plain
// HTTP routes cover session control, latency reports, health, and metrics:
//
//	GET    /ws                          observer channel
//	DELETE /v1/sessions/{id}            stop a session
//	GET    /v1/sessions/{id}/latency    per-stage latency report
//	GET    /healthz, /readyz            liveness and readiness
//	GET    /metrics                     Prometheus scrape endpoint
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/lingolens/internal/event"
	"github.com/MrWong99/lingolens/internal/health"
	"github.com/MrWong99/lingolens/internal/latency"
	"github.com/MrWong99/lingolens/internal/observe"
	"github.com/MrWong99/lingolens/internal/session"
)

const (
	defaultReadLimit    = 16 << 20
	defaultWriteTimeout = 10 * time.Second
	stopTimeout         = 10 * time.Second
)

// Sessions is the session registry the transport drives.
type Sessions interface {
	// StartFile starts a file-mode session. The channel carries every event
	// of the session and ends with exactly one terminal event. A source that
	// cannot be opened yields an error matching [pipeline.ErrSourceOpen]
	// together with the id of the failed session.
	StartFile(ctx context.Context, req session.Request) (string, <-chan event.Event, error)

	// StartLive starts a live-mode session.
	StartLive(ctx context.Context, req session.Request) (string, LiveSession, error)

	// Stop ends a session. Unknown ids yield [session.ErrNotFound].
	Stop(ctx context.Context, id string) error

	// Latency returns the latency report of a session.
	Latency(id string) ([]latency.Report, error)
}

// LiveSession is the observer-facing surface of a live session.
type LiveSession interface {
	Busy() bool
	SubmitFrame(ctx context.Context, data []byte) (<-chan event.Event, error)
	StartAudio() error
	StopAudio()
	SubmitAudio(ctx context.Context, chunk []byte) (<-chan event.Event, error)
	StartCapture(ctx context.Context, ref string) (<-chan event.Event, error)
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics used for observer gauges, suppression
// counters, and the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithDedup sets the observer-side dedup policy.
func WithDedup(window time.Duration, finalHistory int) Option {
	return func(s *Server) {
		s.dedupWindow = window
		s.finalHistory = finalHistory
	}
}

// WithHealth mounts the health handler.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithOriginPatterns allows cross-origin observers matching the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// WithReadLimit caps the size of one incoming observer message.
func WithReadLimit(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

// Server serves the observer channel and the HTTP routes.
type Server struct {
	sessions       Sessions
	metrics        *observe.Metrics
	health         *health.Handler
	originPatterns []string
	readLimit      int64
	writeTimeout   time.Duration

	mu           sync.RWMutex
	dedupWindow  time.Duration
	finalHistory int
}

// NewServer creates a Server over sessions.
func NewServer(sessions Sessions, opts ...Option) *Server {
	s := &Server{
		sessions:     sessions,
		readLimit:    defaultReadLimit,
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetDedup replaces the dedup policy for observers that connect afterwards.
func (s *Server) SetDedup(window time.Duration, finalHistory int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedupWindow = window
	s.finalHistory = finalHistory
}

func (s *Server) newDedup() *Dedup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return NewDedup(s.dedupWindow, s.finalHistory)
}

// Handler returns the HTTP handler with all routes, wrapped in the
// observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleStop)
	mux.HandleFunc("GET /v1/sessions/{id}/latency", s.handleLatency)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.health.Register(mux)
	}
	return observe.Middleware(s.metrics)(mux)
}

// handleStop handles DELETE /v1/sessions/{id}.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()

	err := s.sessions.Stop(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case err != nil:
		observe.Logger(r.Context()).Warn("transport: stop session", "session_id", id, "err", err)
		http.Error(w, "failed to stop session: "+err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// latencyResponse is the JSON body of the latency endpoint.
type latencyResponse struct {
	SessionID string           `json:"session_id"`
	Stages    []latency.Report `json:"stages"`
}

// handleLatency handles GET /v1/sessions/{id}/latency.
func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reports, err := s.sessions.Latency(id)
	if errors.Is(err, session.ErrNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(latencyResponse{SessionID: id, Stages: reports})
}
