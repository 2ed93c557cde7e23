// Package live coordinates a live translation session, where the observer
// drives the pipeline by submitting camera frames and microphone chunks.
//
// Backpressure is cooperative: a [Coordinator] keeps at most one frame in
// flight and rejects further submissions with [ErrFrameInFlight] until the
// current one is done; the observer is expected to check [Coordinator.Busy]
// before sending. Audio chunks are independent short-lived tasks, each owning
// its temp artifacts for exactly as long as it runs.
package live

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // frame decoders
	_ "image/png"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/lingolens/internal/event"
	"github.com/MrWong99/lingolens/internal/latency"
	"github.com/MrWong99/lingolens/internal/observe"
	"github.com/MrWong99/lingolens/internal/overlay"
	"github.com/MrWong99/lingolens/internal/pipeline"
	"github.com/MrWong99/lingolens/internal/session"
	"github.com/MrWong99/lingolens/internal/transcript/novelty"
	"github.com/MrWong99/lingolens/pkg/lang"
	"github.com/MrWong99/lingolens/pkg/media"
)

const (
	// DefaultMinChunkBytes is the size below which an audio chunk is treated
	// as silence and dropped.
	DefaultMinChunkBytes = 1000

	// DefaultTranscodeTimeout bounds the conversion of one audio chunk.
	DefaultTranscodeTimeout = 5 * time.Second

	// DefaultDetectionInterval detects text on every submitted frame.
	DefaultDetectionInterval = 1

	metricMode = "live"
)

var (
	// ErrFrameInFlight is returned by SubmitFrame while the previous frame is
	// still being processed.
	ErrFrameInFlight = errors.New("live: frame already in flight")

	// ErrChunkTooSmall is returned for audio chunks below the minimum size.
	ErrChunkTooSmall = errors.New("live: audio chunk too small")

	// ErrAudioInactive is returned by SubmitAudio before StartAudio.
	ErrAudioInactive = errors.New("live: audio capture not started")

	// ErrCaptureActive is returned by StartCapture while a capture runs.
	ErrCaptureActive = errors.New("live: capture already running")

	// ErrStopped is returned by every operation after Stop.
	ErrStopped = errors.New("live: session stopped")
)

// Config tunes a [Coordinator]. Zero values select the defaults.
type Config struct {
	MinChunkBytes     int
	TranscodeTimeout  time.Duration
	DetectionInterval int
	JPEGQuality       int
	NoveltyThreshold  float64
	Reconnect         ReconnectConfig
}

func (c Config) withDefaults() Config {
	if c.MinChunkBytes <= 0 {
		c.MinChunkBytes = DefaultMinChunkBytes
	}
	if c.TranscodeTimeout <= 0 {
		c.TranscodeTimeout = DefaultTranscodeTimeout
	}
	if c.DetectionInterval <= 0 {
		c.DetectionInterval = DefaultDetectionInterval
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = overlay.DefaultJPEGQuality
	}
	if c.NoveltyThreshold <= 0 {
		c.NoveltyThreshold = novelty.DefaultThreshold
	}
	c.Reconnect = c.Reconnect.withDefaults()
	return c
}

// Coordinator is the live-mode state of one session.
type Coordinator struct {
	sess    *session.Session
	svc     *pipeline.Services
	opener  media.Opener
	cfg     Config
	metrics *observe.Metrics
	sleep   func(context.Context, time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc

	// slot holds a token while a frame is in flight.
	slot    chan struct{}
	proc    *overlay.Processor
	frames  int
	novelty *novelty.Filter

	audioActive atomic.Bool
	stopped     atomic.Bool

	// taskMu orders task registration against Stop so that wg.Add never
	// races wg.Wait.
	taskMu sync.Mutex
	wg     sync.WaitGroup

	mu            sync.Mutex
	captureCancel context.CancelFunc
}

// New starts sess and returns its coordinator. opener is used for
// server-side capture and may be nil when the deployment has none.
func New(ctx context.Context, sess *session.Session, svc *pipeline.Services, opener media.Opener, cfg Config) (*Coordinator, error) {
	runCtx, err := sess.Start(ctx)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	runCtx, cancel := context.WithCancel(runCtx)

	metrics := svc.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Coordinator{
		sess:    sess,
		svc:     svc,
		opener:  opener,
		cfg:     cfg,
		metrics: metrics,
		sleep:   sleepCtx,
		ctx:     runCtx,
		cancel:  cancel,
		slot:    make(chan struct{}, 1),
		proc: overlay.NewProcessor(svc, sess.Tracker, sess.SourceLang, sess.TargetLang,
			overlay.WithDetectionInterval(cfg.DetectionInterval),
			overlay.WithJPEGQuality(cfg.JPEGQuality)),
		novelty: novelty.New(cfg.NoveltyThreshold),
	}, nil
}

// Session returns the coordinated session.
func (c *Coordinator) Session() *session.Session { return c.sess }

// Busy reports whether a frame is in flight. Observers should not submit
// another frame while it is true.
func (c *Coordinator) Busy() bool {
	return len(c.slot) == 1
}

// SubmitFrame processes one JPEG or PNG encoded frame. The returned channel
// carries the text_detected events of this frame followed by the rendered
// frame and is closed when processing is done; Busy stays true until then.
func (c *Coordinator) SubmitFrame(ctx context.Context, data []byte) (<-chan event.Event, error) {
	if c.stopped.Load() {
		return nil, ErrStopped
	}
	select {
	case c.slot <- struct{}{}:
	default:
		return nil, ErrFrameInFlight
	}

	img, err := decodeFrame(data)
	if err != nil {
		<-c.slot
		return nil, err
	}

	if !c.track() {
		<-c.slot
		return nil, ErrStopped
	}
	out := make(chan event.Event, 4)
	go func() {
		defer c.wg.Done()
		defer close(out)
		defer func() { <-c.slot }()

		runCtx, cancel := c.bind(ctx)
		defer cancel()

		c.frames++
		res, err := c.proc.Process(runCtx, media.Frame{Seq: c.frames, Image: img})
		if err != nil {
			observe.Logger(runCtx).Warn("live: frame dropped", "frame", c.frames, "err", err)
			return
		}
		for _, r := range res.Detected {
			if !event.Send(runCtx, out, event.TextFound(r.Original, r.Translated, r.Box())) {
				return
			}
		}
		if event.Send(runCtx, out, event.FrameReady(res.Image, c.frames, 0)) {
			c.metrics.FramesEmitted.Add(runCtx, 1)
		}
	}()
	return out, nil
}

// StartAudio enables audio chunk submission.
func (c *Coordinator) StartAudio() error {
	if c.stopped.Load() {
		return ErrStopped
	}
	c.audioActive.Store(true)
	return nil
}

// StopAudio disables audio chunk submission. Chunks already being recognized
// are abandoned: their latency tracking is cancelled and no transcript is
// emitted for them.
func (c *Coordinator) StopAudio() {
	c.audioActive.Store(false)
}

// AudioActive reports whether audio submission is enabled.
func (c *Coordinator) AudioActive() bool {
	return c.audioActive.Load()
}

// SubmitAudio recognizes and translates one raw audio chunk. The returned
// channel carries at most one transcript event and is closed when the chunk
// is done. Both temp artifacts of the chunk are deleted on every path.
func (c *Coordinator) SubmitAudio(ctx context.Context, chunk []byte) (<-chan event.Event, error) {
	switch {
	case c.stopped.Load():
		return nil, ErrStopped
	case !c.audioActive.Load():
		return nil, ErrAudioInactive
	case len(chunk) < c.cfg.MinChunkBytes:
		return nil, fmt.Errorf("%w: %d bytes", ErrChunkTooSmall, len(chunk))
	}

	if !c.track() {
		return nil, ErrStopped
	}
	out := make(chan event.Event, 1)
	go func() {
		defer c.wg.Done()
		defer close(out)

		runCtx, cancel := c.bind(ctx)
		defer cancel()
		c.processChunk(runCtx, chunk, out)
	}()
	return out, nil
}

func (c *Coordinator) processChunk(ctx context.Context, chunk []byte, out chan<- event.Event) {
	log := observe.Logger(ctx)
	callCtx := context.WithoutCancel(ctx)
	ledger := c.sess.Ledger
	release := func(path string) {
		if err := ledger.Release(path); err != nil {
			log.Warn("live: release chunk artifact", "path", path, "err", err)
		}
	}

	raw, err := ledger.Write("chunk-*.webm", chunk)
	if err != nil {
		log.Warn("live: store chunk", "err", err)
		return
	}
	defer release(raw)

	wavPath, err := ledger.Reserve("chunk-*.wav")
	if err != nil {
		log.Warn("live: reserve wav", "err", err)
		return
	}
	defer release(wavPath)

	if err := c.svc.Remux(callCtx, c.cfg.TranscodeTimeout, raw, wavPath); err != nil {
		log.Warn("live: chunk dropped", "err", err, "timeout", errors.Is(err, pipeline.ErrTranscodeTimeout))
		c.metrics.RecordSegment(ctx, metricMode, "error")
		return
	}
	wav, err := os.ReadFile(wavPath)
	if err != nil {
		log.Warn("live: read wav", "err", err)
		return
	}

	id := uuid.NewString()
	c.sess.Tracker.StartTracking(id)
	text, err := c.svc.Recognize(callCtx, wav, lang.RecognitionCode(c.sess.SourceLang))
	if err != nil {
		c.sess.Tracker.CancelTracking(id)
		log.Warn("live: recognition failed", "err", err)
		c.metrics.RecordSegment(ctx, metricMode, "error")
		return
	}
	if !c.audioActive.Load() || ctx.Err() != nil {
		c.sess.Tracker.CancelTracking(id)
		return
	}
	c.sess.Tracker.EndTracking(id)

	text = strings.TrimSpace(text)
	if !c.novelty.Accept(text) {
		c.metrics.RecordSegment(ctx, metricMode, "repeat")
		return
	}

	start := time.Now()
	translated, err := c.svc.Translate(callCtx, c.sess.SourceLang, c.sess.TargetLang, text)
	if err != nil {
		log.Warn("live: translation failed", "err", err)
		c.metrics.RecordSegment(ctx, metricMode, "error")
		return
	}
	c.sess.Tracker.RecordStageLatency(latency.StageTranslation, time.Since(start))

	c.metrics.RecordSegment(ctx, metricMode, "ok")
	event.Send(ctx, out, event.TranscriptReady(event.Transcript{
		Original:   text,
		Translated: translated,
		SourceLang: c.sess.SourceLang,
		TargetLang: c.sess.TargetLang,
	}))
}

// StartCapture opens ref (a camera device or stream URL) on the server and
// runs the overlay engine over it until StopCapture, Stop, or ctx ends. A
// dropped source is reopened per Config.Reconnect.
//
// The returned channel carries the engine's metadata, text and frame events
// and ends with a single capture_ended event instead of a terminal one: a
// capture ending does not end the session. A failed capture sets the
// event's Message.
func (c *Coordinator) StartCapture(ctx context.Context, ref string) (<-chan event.Event, error) {
	if c.stopped.Load() {
		return nil, ErrStopped
	}
	if c.opener == nil {
		return nil, pipeline.Wrap(pipeline.ErrSourceOpen, "capture", errors.New("no capture backend configured"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.captureCancel != nil {
		return nil, ErrCaptureActive
	}

	if !c.track() {
		return nil, ErrStopped
	}
	captureCtx, cancel := c.bind(ctx)
	engine := overlay.NewEngine(
		&reconnectingOpener{opener: c.opener, cfg: c.cfg.Reconnect, sleep: c.sleep},
		overlay.NewProcessor(c.svc, c.sess.Tracker, c.sess.SourceLang, c.sess.TargetLang,
			overlay.WithJPEGQuality(c.cfg.JPEGQuality)),
		overlay.WithEngineMetrics(c.metrics),
	)
	events, err := engine.Start(captureCtx, ref)
	if err != nil {
		cancel()
		c.wg.Done()
		return nil, err
	}
	c.captureCancel = cancel

	out := make(chan event.Event)
	go func() {
		defer c.wg.Done()
		defer close(out)
		defer func() {
			c.mu.Lock()
			c.captureCancel = nil
			c.mu.Unlock()
			cancel()
		}()
		for ev := range events {
			if ev.Kind.Terminal() {
				ev = event.CaptureEnded(ev.Message)
			}
			out <- ev
		}
	}()
	return out, nil
}

// StopCapture ends a running capture. Its channel still delivers the
// capture_ended event before closing.
func (c *Coordinator) StopCapture() {
	c.mu.Lock()
	cancel := c.captureCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop ends the session: audio is disabled, the capture and in-flight tasks
// are cancelled, and once they have returned (or ctx expires) the session's
// temp artifacts are swept. Only the first call has an effect.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.taskMu.Lock()
	first := c.stopped.CompareAndSwap(false, true)
	c.taskMu.Unlock()
	if !first {
		return nil
	}
	c.StopAudio()
	c.sess.Stop()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("live: waiting for in-flight tasks: %w", ctx.Err())
	}

	sweepErr := c.sess.Close()
	c.sess.Finish()
	return errors.Join(waitErr, sweepErr)
}

// track registers a background task with wg unless the coordinator has
// stopped.
func (c *Coordinator) track() bool {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	if c.stopped.Load() {
		return false
	}
	c.wg.Add(1)
	return true
}

// bind derives a context from ctx that is also cancelled when the
// coordinator stops.
func (c *Coordinator) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(observe.WithSessionID(ctx, c.sess.ID))
	stop := context.AfterFunc(c.ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func decodeFrame(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("live: decode frame: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
