package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lingolens/internal/archive"
	"github.com/MrWong99/lingolens/internal/config"
	"github.com/MrWong99/lingolens/internal/event"
	"github.com/MrWong99/lingolens/internal/latency"
	"github.com/MrWong99/lingolens/internal/live"
	"github.com/MrWong99/lingolens/internal/observe"
	"github.com/MrWong99/lingolens/internal/overlay"
	"github.com/MrWong99/lingolens/internal/pipeline"
	"github.com/MrWong99/lingolens/internal/segment"
	"github.com/MrWong99/lingolens/internal/session"
	"github.com/MrWong99/lingolens/internal/transport"
	"github.com/MrWong99/lingolens/pkg/media"
)

// Compile-time interface checks.
var (
	_ transport.Sessions    = (*SessionManager)(nil)
	_ transport.LiveSession = (*live.Coordinator)(nil)
)

// maxFinished is how many ended sessions keep their latency report around
// for the latency endpoint.
const maxFinished = 64

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Services *pipeline.Services

	// Opener opens media files and live capture refs.
	Opener media.Opener

	// Archive receives the final transcript of finished file sessions. Nil
	// disables archiving.
	Archive archive.Store

	Pipeline config.PipelineConfig
	Observer config.ObserverConfig
}

// SessionManager starts, tracks, and stops translation sessions. Any number
// of sessions may run concurrently; each owns its own ledger and tracker.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	svc     *pipeline.Services
	opener  media.Opener
	archive archive.Store
	metrics *observe.Metrics

	// ctx is the parent of every session context; cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pipeCfg  config.PipelineConfig
	obsCfg   config.ObserverConfig
	active   map[string]*managed
	finished map[string][]latency.Report
	order    []string
	closed   bool
}

// managed is the registry entry of one running session.
type managed struct {
	sess  *session.Session
	coord *live.Coordinator // live mode only

	// done is closed once a file session has swept its resources and sent
	// its terminal event.
	done chan struct{}
}

// NewSessionManager creates a SessionManager. Sessions derive their contexts
// from ctx.
func NewSessionManager(ctx context.Context, cfg SessionManagerConfig) *SessionManager {
	ctx, cancel := context.WithCancel(ctx)
	metrics := cfg.Services.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SessionManager{
		svc:      cfg.Services,
		opener:   cfg.Opener,
		archive:  cfg.Archive,
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
		pipeCfg:  cfg.Pipeline,
		obsCfg:   cfg.Observer,
		active:   make(map[string]*managed),
		finished: make(map[string][]latency.Report),
	}
}

// SetPipeline replaces the pipeline tunables used by sessions started
// afterwards. Running sessions keep their settings.
func (m *SessionManager) SetPipeline(p config.PipelineConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeCfg = p
}

// SetObserver replaces the observer policy used by live sessions started
// afterwards.
func (m *SessionManager) SetObserver(o config.ObserverConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obsCfg = o
}

// ActiveCount returns the number of running sessions.
func (m *SessionManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Get returns the running session with the given id.
func (m *SessionManager) Get(id string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.active[id]
	if !ok {
		return nil, false
	}
	return e.sess, true
}

// newSession fills request defaults and allocates a session with the current
// pipeline settings.
func (m *SessionManager) newSession(req session.Request, mode session.Mode) (*session.Session, config.PipelineConfig, config.ObserverConfig, error) {
	m.mu.Lock()
	p, o, closed := m.pipeCfg, m.obsCfg, m.closed
	m.mu.Unlock()
	if closed {
		return nil, p, o, errors.New("app: session manager is shut down")
	}

	req.Mode = mode
	if req.TargetLang == "" {
		req.TargetLang = p.TargetLanguage
	}
	sess, err := session.New(req, p.TempDir,
		latency.WithThreshold(p.LatencyThreshold),
		latency.WithMetrics(m.metrics),
	)
	if err != nil {
		return nil, p, o, err
	}
	return sess, p, o, nil
}

func (m *SessionManager) register(e *managed) {
	m.mu.Lock()
	m.active[e.sess.ID] = e
	m.mu.Unlock()
	m.metrics.ActiveSessions.Add(m.ctx, 1, metric.WithAttributes(observe.Attr("mode", string(e.sess.Mode))))
}

// unregister removes a session and keeps its latency report.
func (m *SessionManager) unregister(e *managed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[e.sess.ID]; !ok {
		return
	}
	delete(m.active, e.sess.ID)
	m.finished[e.sess.ID] = e.sess.Tracker.Report()
	m.order = append(m.order, e.sess.ID)
	if len(m.order) > maxFinished {
		delete(m.finished, m.order[0])
		m.order = m.order[1:]
	}
	m.metrics.ActiveSessions.Add(m.ctx, -1, metric.WithAttributes(observe.Attr("mode", string(e.sess.Mode))))
}

// ─── File mode ──────────────────────────────────────────────────────────────

// StartFile implements [transport.Sessions]. The media source is opened
// before StartFile returns, so an unreadable file fails the call with
// [pipeline.ErrSourceOpen] instead of producing a running session. The id of
// the failed session is still returned so the caller can report it.
//
// The returned channel carries the overlay frames and the transcripts of the
// session interleaved, and ends with exactly one terminal event once both
// pipelines are done and the session's artifacts are swept.
func (m *SessionManager) StartFile(ctx context.Context, req session.Request) (string, <-chan event.Event, error) {
	sess, p, _, err := m.newSession(req, session.ModeFile)
	if err != nil {
		return "", nil, err
	}
	runCtx, err := sess.Start(observe.WithSessionID(m.ctx, sess.ID))
	if err != nil {
		_ = sess.Close()
		return "", nil, err
	}

	proc := overlay.NewProcessor(m.svc, sess.Tracker, sess.SourceLang, sess.TargetLang,
		overlay.WithDetectionInterval(p.DetectionInterval),
		overlay.WithJPEGQuality(p.JPEGQuality),
		overlay.WithTranslateConcurrency(p.TranslateConcurrency),
	)
	engine := overlay.NewEngine(m.opener, proc, overlay.WithEngineMetrics(m.metrics))
	frames, err := engine.Start(runCtx, sess.Media)
	if err != nil {
		sess.Fail(err)
		if cerr := sess.Close(); cerr != nil {
			observe.Logger(runCtx).Warn("app: sweep after failed start", "err", cerr)
		}
		return sess.ID, nil, err
	}

	seg := segment.New(m.svc,
		segment.WithTranscodeTimeout(p.SegmentTranscodeTimeout),
		segment.WithFullTrackTimeout(p.FullTrackTimeout),
		segment.WithMetrics(m.metrics),
	)

	e := &managed{sess: sess, done: make(chan struct{})}
	m.register(e)
	observe.Logger(runCtx).Info("app: file session started", "media", sess.Media, "source", sess.SourceLang, "target", sess.TargetLang)

	out := make(chan event.Event, 16)
	go m.runFile(runCtx, e, frames, seg, out)
	return sess.ID, out, nil
}

// runFile merges the frame loop and the segmenter into out. The frame loop's
// terminal event is held back until the segmenter is done too, and is sent
// only after the session's artifacts are swept.
func (m *SessionManager) runFile(ctx context.Context, e *managed, frames <-chan event.Event, seg *segment.Segmenter, out chan<- event.Event) {
	sess := e.sess
	log := observe.Logger(ctx)

	var (
		terminal event.Event
		final    *event.Transcript
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var failure error
		for ev := range frames {
			if ev.Kind.Terminal() {
				terminal = ev
				if ev.Kind == event.KindProcessingError {
					failure = errors.New(ev.Message)
				}
				continue
			}
			event.Send(ctx, out, ev)
		}
		return failure
	})
	g.Go(func() error {
		for ev := range seg.Run(gctx, sess, sess.Media) {
			if ev.Transcript != nil && ev.Transcript.IsFinal {
				final = ev.Transcript
			}
			event.Send(ctx, out, ev)
		}
		return nil
	})
	err := g.Wait()

	if terminal.Kind == "" {
		// The frame loop always ends with a terminal event; this only guards
		// against a closed channel without one.
		terminal = event.Complete()
	}
	if err != nil {
		log.Warn("app: file session failed", "err", err)
		sess.Fail(err)
	}
	if final != nil {
		m.archiveTranscript(sess, final)
	}

	if err := sess.Close(); err != nil {
		log.Warn("app: sweep session artifacts", "err", err)
	}
	sess.Finish()
	m.unregister(e)

	out <- terminal
	close(out)
	close(e.done)
	log.Info("app: file session ended", "status", sess.Status().String(), "terminal", terminal.Kind)
}

func (m *SessionManager) archiveTranscript(sess *session.Session, t *event.Transcript) {
	if m.archive == nil {
		return
	}
	rec := archive.Record{
		SessionID:  sess.ID,
		Mode:       string(sess.Mode),
		SourceLang: sess.SourceLang,
		TargetLang: sess.TargetLang,
		Media:      sess.Media,
		Original:   t.Original,
		Translated: t.Translated,
		Latency:    sess.Tracker.Report(),
		CreatedAt:  sess.CreatedAt,
		FinishedAt: time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), 10*time.Second)
	defer cancel()
	if err := m.archive.SaveTranscript(ctx, rec); err != nil {
		slog.Warn("app: archive transcript", "session_id", sess.ID, "err", err)
	}
}

// ─── Live mode ──────────────────────────────────────────────────────────────

// StartLive implements [transport.Sessions].
func (m *SessionManager) StartLive(ctx context.Context, req session.Request) (string, transport.LiveSession, error) {
	sess, p, o, err := m.newSession(req, session.ModeLive)
	if err != nil {
		return "", nil, err
	}
	coord, err := live.New(observe.WithSessionID(m.ctx, sess.ID), sess, m.svc, m.opener, live.Config{
		MinChunkBytes:     p.MinAudioChunkBytes,
		TranscodeTimeout:  p.TranscodeTimeout,
		DetectionInterval: p.LiveDetectionInterval,
		JPEGQuality:       p.JPEGQuality,
		NoveltyThreshold:  o.NoveltyThreshold,
		Reconnect: live.ReconnectConfig{
			MaxRetries: p.Capture.MaxRetries,
			Backoff:    p.Capture.Backoff,
			MaxBackoff: p.Capture.MaxBackoff,
		},
	})
	if err != nil {
		_ = sess.Close()
		return "", nil, err
	}
	m.register(&managed{sess: sess, coord: coord})
	observe.Logger(ctx).Info("app: live session started", "session_id", sess.ID, "source", sess.SourceLang, "target", sess.TargetLang)
	return sess.ID, coord, nil
}

// ─── Stop / Shutdown ────────────────────────────────────────────────────────

// Stop implements [transport.Sessions]. For file sessions it waits until the
// terminal event has been sent or ctx expires.
func (m *SessionManager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("app: stop %s: %w", id, session.ErrNotFound)
	}
	return m.stop(ctx, e)
}

func (m *SessionManager) stop(ctx context.Context, e *managed) error {
	if e.coord != nil {
		err := e.coord.Stop(ctx)
		m.unregister(e)
		observe.Logger(ctx).Info("app: live session stopped", "session_id", e.sess.ID)
		return err
	}

	e.sess.Stop()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: stop %s: %w", e.sess.ID, ctx.Err())
	}
}

// Latency implements [transport.Sessions]. Reports of recently ended
// sessions remain available.
func (m *SessionManager) Latency(id string) ([]latency.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.active[id]; ok {
		return e.sess.Tracker.Report(), nil
	}
	if r, ok := m.finished[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("app: latency %s: %w", id, session.ErrNotFound)
}

// Shutdown stops every running session concurrently and refuses new ones.
// It returns once all sessions have released their resources or ctx expires.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	entries := make([]*managed, 0, len(m.active))
	for _, e := range m.active {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, e := range entries {
		g.Go(func() error {
			if err := m.stop(ctx, e); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	m.cancel()
	return errors.Join(errs...)
}
