// Package health serves the liveness and readiness probes of the translation
// server.
//
//   - /healthz reports the process alive together with its uptime and the
//     number of running sessions.
//   - /readyz returns 200 only while the server is not draining and every
//     registered check passes. Checks run concurrently.
//
// Once [Handler.Drain] is called (at the start of shutdown) /readyz fails so
// load balancers stop routing new observers to the instance, while running
// sessions finish.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil while the dependency
// is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type liveness struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	ActiveSessions int    `json:"active_sessions"`
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use.
type Handler struct {
	checkers []Checker
	sessions func() int
	started  time.Time
	draining atomic.Bool
}

// Option configures a [Handler].
type Option func(*Handler)

// WithChecker adds a readiness check.
func WithChecker(name string, check func(ctx context.Context) error) Option {
	return func(h *Handler) {
		h.checkers = append(h.checkers, Checker{Name: name, Check: check})
	}
}

// WithSessionCount reports the number of running sessions on /healthz.
func WithSessionCount(fn func() int) Option {
	return func(h *Handler) { h.sessions = fn }
}

// New creates a Handler.
func New(opts ...Option) *Handler {
	h := &Handler{started: time.Now()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Drain marks the server as shutting down. It cannot be undone.
func (h *Handler) Drain() { h.draining.Store(true) }

// Healthz always answers 200 while the process can serve HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := liveness{
		Status: "ok",
		Uptime: time.Since(h.started).Truncate(time.Second).String(),
	}
	if h.sessions != nil {
		res.ActiveSessions = h.sessions()
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz runs every check concurrently, each bounded by [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, readiness{Status: "draining"})
		return
	}

	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		failed bool
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res, status := readiness{Status: "ok", Checks: checks}, http.StatusOK
	if failed {
		res.Status, status = "fail", http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
