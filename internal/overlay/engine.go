package overlay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/lingolens/internal/event"
	"github.com/MrWong99/lingolens/internal/observe"
	"github.com/MrWong99/lingolens/internal/pipeline"
	"github.com/MrWong99/lingolens/pkg/media"
)

// DefaultFPS paces sources that do not report a frame rate.
const DefaultFPS = 30

// ErrEngineBusy is returned by [Engine.Start] while a previous run is still
// streaming.
var ErrEngineBusy = errors.New("overlay: engine is already running")

// State is the engine lifecycle position.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateStreaming
	StateCompleted
	StateFailed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EngineOption configures an [Engine].
type EngineOption func(*Engine)

// WithEngineMetrics sets the metrics sink for emitted frames.
func WithEngineMetrics(m *observe.Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithPacing replaces the inter-frame wait. fn must return ctx.Err() once ctx
// is done.
func WithPacing(fn func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// Engine drives a [Processor] over a [media.Source], emitting frames at the
// source's native rate. One Engine serves one session; it runs at most one
// source at a time.
type Engine struct {
	opener  media.Opener
	proc    *Processor
	metrics *observe.Metrics
	sleep   func(context.Context, time.Duration) error

	mu    sync.Mutex
	state State
}

// NewEngine creates an Engine that opens sources through opener and renders
// frames with proc.
func NewEngine(opener media.Opener, proc *Processor, opts ...EngineOption) *Engine {
	e := &Engine{
		opener: opener,
		proc:   proc,
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Start opens ref and streams it in the background. An unopenable source is
// reported synchronously as [pipeline.ErrSourceOpen] and nothing is streamed.
//
// The returned channel carries one video_metadata event, then text_detected
// and frame events in source order, and finally exactly one terminal event:
// processing_complete when the source is exhausted or ctx is cancelled,
// processing_error when the loop fails. The channel is closed after the
// terminal event; the caller must drain it.
func (e *Engine) Start(ctx context.Context, ref string) (<-chan event.Event, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return nil, ErrEngineBusy
	}
	e.state = StateOpening
	e.mu.Unlock()

	src, err := e.opener.Open(ctx, ref)
	if err != nil {
		e.setState(StateIdle)
		return nil, pipeline.Wrap(pipeline.ErrSourceOpen, "open "+ref, err)
	}

	e.proc.Reset()
	e.setState(StateStreaming)
	out := make(chan event.Event, 8)
	go e.stream(ctx, src, out)
	return out, nil
}

func (e *Engine) stream(ctx context.Context, src media.Source, out chan<- event.Event) {
	defer close(out)
	log := observe.Logger(ctx)

	err := e.loop(ctx, src, out)
	if cerr := src.Close(); cerr != nil {
		log.Warn("overlay: close source", "err", cerr)
	}

	terminal := event.Complete()
	final := StateCompleted
	if err != nil {
		log.Error("overlay: frame loop failed", "err", err)
		terminal = event.Failed(err.Error())
		final = StateFailed
	}
	e.setState(final)
	out <- terminal
	e.setState(StateIdle)
}

// loop reads, processes, and emits frames until the source is exhausted or
// ctx is done. A stop is not an error. Panics inside the loop are reported
// as errors so that the terminal event is still sent.
func (e *Engine) loop(ctx context.Context, src media.Source, out chan<- event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("overlay: panic in frame loop: %v", r)
		}
	}()

	info := src.Info()
	if !event.Send(ctx, out, event.Metadata(event.VideoMetadata{
		FPS:         info.FPS,
		TotalFrames: info.TotalFrames,
		Width:       info.Width,
		Height:      info.Height,
	})) {
		return nil
	}

	interval := frameInterval(info.FPS)
	total := info.TotalFrames
	// Sources with a known length are read one frame ahead so that the last
	// frame carries the real count when the estimate was too high.
	finite := total > 0
	index := 0
	frame, err := e.next(ctx, src, 1)
	for {
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		index++

		res, perr := e.proc.Process(ctx, frame)
		if perr != nil {
			return perr
		}
		for _, r := range res.Detected {
			if !event.Send(ctx, out, event.TextFound(r.Original, r.Translated, r.Box())) {
				return nil
			}
		}

		var nextErr error
		if finite {
			frame, nextErr = e.next(ctx, src, index+1)
			if errors.Is(nextErr, io.EOF) {
				total = index
			}
		}
		if total > 0 && index > total {
			total = index
		}
		if !event.Send(ctx, out, event.FrameReady(res.Image, index, total)) {
			return nil
		}
		e.metrics.FramesEmitted.Add(ctx, 1)

		if err := e.sleep(ctx, interval); err != nil {
			return nil
		}
		if !finite {
			frame, nextErr = e.next(ctx, src, index+1)
		}
		err = nextErr
	}
}

// next reads frame n from src. Exhaustion is reported as [io.EOF] and a stop
// as the context's error.
func (e *Engine) next(ctx context.Context, src media.Source, n int) (media.Frame, error) {
	if err := ctx.Err(); err != nil {
		return media.Frame{}, err
	}
	frame, err := src.Next(ctx)
	if err == nil || errors.Is(err, io.EOF) {
		return frame, err
	}
	if cerr := ctx.Err(); cerr != nil {
		return media.Frame{}, cerr
	}
	return media.Frame{}, fmt.Errorf("overlay: read frame %d: %w", n, err)
}

// frameInterval is the native inter-frame interval, 1000/fps ms.
func frameInterval(fps float64) time.Duration {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return time.Duration(float64(time.Second) / fps)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
