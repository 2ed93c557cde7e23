// Package segment transcribes the audio track of a media file progressively.
//
// A [Segmenter] splits the track into a handful of contiguous windows (see
// [Plan]), recognizes and translates each one as soon as its audio has been
// extracted, and finally runs one pass over the whole track to produce the
// session's complete transcript. Segment results stream to the observer while
// the video is still playing; the full pass corrects for words cut at window
// boundaries.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/lingolens/internal/event"
	"github.com/MrWong99/lingolens/internal/latency"
	"github.com/MrWong99/lingolens/internal/observe"
	"github.com/MrWong99/lingolens/internal/pipeline"
	"github.com/MrWong99/lingolens/internal/session"
	"github.com/MrWong99/lingolens/pkg/lang"
)

const (
	// DefaultTranscodeTimeout bounds the extraction of one segment.
	DefaultTranscodeTimeout = 30 * time.Second

	// DefaultFullTrackTimeout bounds the extraction of the whole track.
	DefaultFullTrackTimeout = 5 * time.Minute

	metricMode = "file"
)

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithTranscodeTimeout sets the per-segment extraction timeout. Non-positive
// values are ignored.
func WithTranscodeTimeout(d time.Duration) Option {
	return func(s *Segmenter) {
		if d > 0 {
			s.transcodeTimeout = d
		}
	}
}

// WithFullTrackTimeout sets the extraction timeout for the full-track pass.
// Non-positive values are ignored.
func WithFullTrackTimeout(d time.Duration) Option {
	return func(s *Segmenter) {
		if d > 0 {
			s.fullTrackTimeout = d
		}
	}
}

// WithMetrics sets the metrics sink for segment counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSleep replaces the pacing wait between segments. fn must return early
// with ctx.Err() once ctx is done.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Segmenter) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// Segmenter runs the progressive transcription of a media file. It holds no
// per-session state and may serve any number of sessions concurrently.
type Segmenter struct {
	svc              *pipeline.Services
	transcodeTimeout time.Duration
	fullTrackTimeout time.Duration
	metrics          *observe.Metrics
	sleep            func(context.Context, time.Duration) error
}

// New creates a Segmenter that calls out through svc.
func New(svc *pipeline.Services, opts ...Option) *Segmenter {
	s := &Segmenter{
		svc:              svc,
		transcodeTimeout: DefaultTranscodeTimeout,
		fullTrackTimeout: DefaultFullTrackTimeout,
		metrics:          svc.Metrics,
		sleep:            sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Run processes the audio track of mediaPath for sess and returns a channel
// of transcript events. The channel is closed once the full-track pass is
// done or ctx is cancelled; Run never emits a terminal event, the session
// owner does that.
//
// Segment failures are logged and skipped. Once ctx is done no further
// segment is started and results of calls still in flight are discarded.
func (s *Segmenter) Run(ctx context.Context, sess *session.Session, mediaPath string) <-chan event.Event {
	out := make(chan event.Event, 4)
	go func() {
		defer close(out)
		s.run(ctx, sess, mediaPath, out)
	}()
	return out
}

func (s *Segmenter) run(ctx context.Context, sess *session.Session, mediaPath string, out chan<- event.Event) {
	ctx = observe.WithSessionID(ctx, sess.ID)
	log := observe.Logger(ctx)

	total, err := s.svc.MediaDuration(ctx, mediaPath)
	switch {
	case err != nil:
		log.Warn("segment: duration unavailable, using whole-track mode", "err", err)
	case total <= 0:
		log.Warn("segment: empty duration, using whole-track mode", "duration", total)
	default:
		windows := Plan(total)
		log.Info("segment: starting", "duration", total, "segments", len(windows))
		for i, w := range windows {
			if ctx.Err() != nil {
				return
			}
			s.segment(ctx, log, sess, mediaPath, w, out)
			if i == len(windows)-1 {
				break
			}
			if err := s.sleep(ctx, PacingDelay(w.Duration)); err != nil {
				return
			}
		}
	}

	if ctx.Err() != nil {
		return
	}
	s.fullTrack(ctx, log, sess, mediaPath, out)
}

// segment handles one window and emits a progressive transcript.
func (s *Segmenter) segment(ctx context.Context, log *slog.Logger, sess *session.Session, mediaPath string, w Window, out chan<- event.Event) {
	log = log.With("segment", w.Index, "start", w.Start, "length", w.Duration)

	text, err := s.transcribe(ctx, log, sess, mediaPath, w.Start, w.Duration, s.transcodeTimeout)
	if err != nil {
		log.Warn("segment: skipped", "err", err)
		s.metrics.RecordSegment(ctx, metricMode, "error")
		return
	}
	if text == "" {
		s.metrics.RecordSegment(ctx, metricMode, "empty")
		return
	}
	translated, err := s.translate(ctx, sess, text)
	if err != nil {
		log.Warn("segment: translation failed", "err", err)
		s.metrics.RecordSegment(ctx, metricMode, "error")
		return
	}
	if ctx.Err() != nil {
		return
	}
	s.metrics.RecordSegment(ctx, metricMode, "ok")
	event.Send(ctx, out, event.TranscriptReady(event.Transcript{
		Original:   text,
		Translated: translated,
		SourceLang: sess.SourceLang,
		TargetLang: sess.TargetLang,
		Segment:    w.Index,
	}))
}

// fullTrack recognizes the whole track and emits the final transcript, at
// most once per session.
func (s *Segmenter) fullTrack(ctx context.Context, log *slog.Logger, sess *session.Session, mediaPath string, out chan<- event.Event) {
	text, err := s.transcribe(ctx, log, sess, mediaPath, 0, 0, s.fullTrackTimeout)
	if err != nil {
		log.Warn("segment: full-track pass failed", "err", err)
		s.metrics.RecordSegment(ctx, metricMode, "error")
		return
	}
	if text == "" {
		log.Info("segment: no speech recognized")
		s.metrics.RecordSegment(ctx, metricMode, "empty")
		return
	}
	translated, err := s.translate(ctx, sess, text)
	if err != nil {
		log.Warn("segment: full-track translation failed", "err", err)
		s.metrics.RecordSegment(ctx, metricMode, "error")
		return
	}
	if ctx.Err() != nil || !sess.MarkFinal() {
		return
	}
	s.metrics.RecordSegment(ctx, metricMode, "ok")
	event.Send(ctx, out, event.TranscriptReady(event.Transcript{
		Original:   text,
		Translated: translated,
		SourceLang: sess.SourceLang,
		TargetLang: sess.TargetLang,
		IsFinal:    true,
	}))
}

// transcribe extracts [start, start+length) into a ledger-tracked WAV file and
// recognizes it. The artifact is released before returning. Calls run on a
// context detached from ctx so that a stop lets them finish; the transcoder is
// still bounded by timeout.
func (s *Segmenter) transcribe(ctx context.Context, log *slog.Logger, sess *session.Session, mediaPath string, start, length, timeout time.Duration) (string, error) {
	callCtx := context.WithoutCancel(ctx)

	wavPath, err := sess.Ledger.Reserve("segment-*.wav")
	if err != nil {
		return "", fmt.Errorf("segment: reserve: %w", err)
	}
	defer func() {
		if err := sess.Ledger.Release(wavPath); err != nil {
			log.Debug("segment: release artifact", "path", wavPath, "err", err)
		}
	}()

	if err := s.svc.ExtractAudio(callCtx, timeout, mediaPath, wavPath, start, length); err != nil {
		return "", err
	}
	wav, err := os.ReadFile(wavPath)
	if err != nil {
		return "", pipeline.Wrap(pipeline.ErrTranscription, "read audio", err)
	}

	id := uuid.NewString()
	sess.Tracker.StartTracking(id)
	text, err := s.svc.Recognize(callCtx, wav, lang.RecognitionCode(sess.SourceLang))
	if err != nil {
		sess.Tracker.CancelTracking(id)
		return "", err
	}
	sess.Tracker.EndTracking(id)
	return strings.TrimSpace(text), nil
}

func (s *Segmenter) translate(ctx context.Context, sess *session.Session, text string) (string, error) {
	start := time.Now()
	translated, err := s.svc.Translate(context.WithoutCancel(ctx), sess.SourceLang, sess.TargetLang, text)
	if err != nil {
		return "", err
	}
	sess.Tracker.RecordStageLatency(latency.StageTranslation, time.Since(start))
	return translated, nil
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
