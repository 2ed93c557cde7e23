// Package app wires all lingolens subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithArchive,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/lingolens/internal/archive"
	"github.com/MrWong99/lingolens/internal/archive/postgres"
	"github.com/MrWong99/lingolens/internal/config"
	"github.com/MrWong99/lingolens/internal/health"
	"github.com/MrWong99/lingolens/internal/observe"
	"github.com/MrWong99/lingolens/internal/pipeline"
	"github.com/MrWong99/lingolens/internal/tempres"
	"github.com/MrWong99/lingolens/internal/transport"
	"github.com/MrWong99/lingolens/pkg/media"
	"github.com/MrWong99/lingolens/pkg/provider/ocr"
	"github.com/MrWong99/lingolens/pkg/provider/stt"
	"github.com/MrWong99/lingolens/pkg/provider/translate"
)

// Providers holds one value per external collaborator. Populated by main.go
// via the config registry; every field is required.
type Providers struct {
	Recognizer stt.Recognizer
	Translator translate.Translator
	Detector   ocr.Detector
	Transcoder media.Transcoder
	Opener     media.Opener

	// Names label the providers in metrics and logs.
	RecognizerName string
	TranslatorName string
	DetectorName   string
}

// healthReporter is implemented by provider chains that can tell whether any
// backend is still accepting calls.
type healthReporter interface {
	Healthy(context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	services *pipeline.Services
	archive  archive.Store
	sessions *SessionManager
	health   *health.Handler
	server   *transport.Server
	httpSrv  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArchive injects a transcript archive instead of connecting to
// archive.postgres_dsn.
func WithArchive(s archive.Store) Option {
	return func(a *App) { a.archive = s }
}

// WithMetrics injects the metrics instruments instead of the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. ctx bounds the
// initialisation and is the parent of every session.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Pipeline services ─────────────────────────────────────────────
	a.services = &pipeline.Services{
		Recognizer:     providers.Recognizer,
		Translator:     providers.Translator,
		Detector:       providers.Detector,
		Transcoder:     providers.Transcoder,
		RecognizerName: providers.RecognizerName,
		TranslatorName: providers.TranslatorName,
		DetectorName:   providers.DetectorName,
		Metrics:        a.metrics,
	}
	if err := a.services.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if providers.Opener == nil {
		return nil, errors.New("app: a media opener is required")
	}

	// ── 2. Stale temp artifacts ──────────────────────────────────────────
	if n, err := tempres.SweepStale(cfg.Pipeline.TempDir, cfg.Pipeline.StaleTempAge); err != nil {
		slog.Warn("app: sweep stale temp directories", "err", err)
	} else if n > 0 {
		slog.Info("app: removed stale temp directories", "count", n)
	}

	// ── 3. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 4. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager(context.WithoutCancel(ctx), SessionManagerConfig{
		Services: a.services,
		Opener:   providers.Opener,
		Archive:  a.archive,
		Pipeline: cfg.Pipeline,
		Observer: cfg.Observer,
	})

	// ── 5. Transport ─────────────────────────────────────────────────────
	healthOpts := []health.Option{
		health.WithChecker("temp_dir", a.checkTempDir),
		health.WithSessionCount(a.sessions.ActiveCount),
	}
	for name, p := range map[string]any{
		"stt":       providers.Recognizer,
		"translate": providers.Translator,
		"ocr":       providers.Detector,
	} {
		if h, ok := p.(healthReporter); ok {
			healthOpts = append(healthOpts, health.WithChecker(name, h.Healthy))
		}
	}
	a.health = health.New(healthOpts...)
	a.server = transport.NewServer(a.sessions,
		transport.WithMetrics(a.metrics),
		transport.WithDedup(cfg.Observer.DedupWindow, cfg.Observer.FullTranscriptHistory),
		transport.WithOriginPatterns(cfg.Observer.AllowedOrigins...),
		transport.WithHealth(a.health),
	)
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initArchive connects the PostgreSQL archive when a DSN is configured and
// no store was injected.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil
	}
	dsn := a.cfg.Archive.PostgresDSN
	if dsn == "" {
		return nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.archive = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("transcript archive enabled")
	return nil
}

// checkTempDir reports the server ready while the temp root is writable.
func (a *App) checkTempDir(context.Context) error {
	f, err := os.CreateTemp(a.cfg.Pipeline.TempDir, "lingolens-readyz-*")
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(f.Name())
}

// Handler returns the HTTP handler serving the observer channel and routes.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ApplyConfig applies the hot-reloadable parts of a config change. Settings
// that need a restart are logged and ignored.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.PipelineChanged {
		a.sessions.SetPipeline(d.NewPipeline)
		slog.Info("pipeline settings reloaded; new sessions use them")
	}
	if d.ObserverChanged {
		a.sessions.SetObserver(d.NewObserver)
		a.server.SetDedup(d.NewObserver.DedupWindow, d.NewObserver.FullTranscriptHistory)
		slog.Info("observer settings reloaded")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.httpSrv.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is [App.Run] on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		errCh <- err
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown stops accepting connections, stops every session (sweeping its
// artifacts), and runs the closers. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.ActiveCount(), "closers", len(a.closers))
		a.health.Drain()

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		if err := a.sessions.Shutdown(ctx); err != nil {
			slog.Warn("session shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
