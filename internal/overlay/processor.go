// Package overlay implements the frame side of a translation session: it
// detects on-screen text every few frames, translates it, and draws the
// translations onto every frame before handing the frame to observers.
//
// A [Processor] owns the detect/translate/render step for one session and is
// driven either by an [Engine] (file playback and server-side capture) or
// directly by the live coordinator for observer-submitted frames.
package overlay

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lingolens/internal/latency"
	"github.com/MrWong99/lingolens/internal/observe"
	"github.com/MrWong99/lingolens/internal/pipeline"
	"github.com/MrWong99/lingolens/pkg/lang"
	"github.com/MrWong99/lingolens/pkg/media"
)

const (
	// DefaultDetectionInterval runs detection on frames 1, 31, 61, ...
	DefaultDetectionInterval = 30

	// DefaultJPEGQuality is used for emitted frames and OCR uploads.
	DefaultJPEGQuality = 80

	// DefaultTranslateConcurrency bounds the parallel translation of the lines
	// found by one detection cycle.
	DefaultTranslateConcurrency = 4
)

// ProcessorOption configures a [Processor].
type ProcessorOption func(*Processor)

// WithDetectionInterval sets how often detection runs. Values <= 1 detect on
// every frame.
func WithDetectionInterval(n int) ProcessorOption {
	return func(p *Processor) { p.interval = n }
}

// WithJPEGQuality sets the JPEG quality (1-100). Out-of-range values are
// ignored.
func WithJPEGQuality(q int) ProcessorOption {
	return func(p *Processor) {
		if q >= 1 && q <= 100 {
			p.quality = q
		}
	}
}

// WithTranslateConcurrency bounds how many lines are translated at once.
func WithTranslateConcurrency(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithClock overrides the time source used for region timestamps.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// Result is the outcome of processing one frame.
type Result struct {
	// Image is the rendered frame, JPEG encoded.
	Image []byte

	// Detected holds the regions found on this frame. It is nil when the
	// frame did not run detection or detection failed.
	Detected []Region

	// Detection reports whether this frame triggered a detection cycle.
	Detection bool
}

// Processor runs detection, translation, and rendering for one session.
// Process must not be called concurrently; the region set belongs to the
// caller's frame loop.
type Processor struct {
	svc        *pipeline.Services
	tracker    *latency.Tracker
	sourceLang string
	targetLang string

	interval    int
	quality     int
	concurrency int
	now         func() time.Time

	counter int
	regions RegionSet
}

// NewProcessor creates a Processor translating from sourceLang to targetLang.
// Translation and overlay timings are recorded in tracker.
func NewProcessor(svc *pipeline.Services, tracker *latency.Tracker, sourceLang, targetLang string, opts ...ProcessorOption) *Processor {
	p := &Processor{
		svc:         svc,
		tracker:     tracker,
		sourceLang:  sourceLang,
		targetLang:  targetLang,
		interval:    DefaultDetectionInterval,
		quality:     DefaultJPEGQuality,
		concurrency: DefaultTranslateConcurrency,
		now:         time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Reset clears the frame counter and the region set.
func (p *Processor) Reset() {
	p.counter = 0
	p.regions.Clear()
}

// Regions returns the regions currently drawn on frames.
func (p *Processor) Regions() []Region {
	return p.regions.All()
}

// Process renders the current regions onto a copy of frame and encodes it.
// Every interval-th frame first runs a detection cycle; a failed cycle is
// logged and leaves the previous regions in place. Only an encoding failure
// is returned as an error.
func (p *Processor) Process(ctx context.Context, frame media.Frame) (Result, error) {
	p.counter++

	var res Result
	if p.shouldDetect() {
		res.Detection = true
		regions, err := p.detect(ctx, frame.Image)
		if err != nil {
			observe.Logger(ctx).Warn("overlay: detection failed, keeping previous regions",
				"frame", frame.Seq, "regions", p.regions.Len(), "err", err)
		} else {
			p.regions.Replace(regions)
			res.Detected = p.regions.All()
		}
	}

	start := time.Now()
	rendered := renderRegions(frame.Image, p.regions.regions)
	encoded, err := encodeJPEG(rendered, p.quality)
	if err != nil {
		return Result{}, fmt.Errorf("overlay: encode frame %d: %w", frame.Seq, err)
	}
	p.tracker.RecordStageLatency(latency.StageOverlay, time.Since(start))

	res.Image = encoded
	return res, nil
}

func (p *Processor) shouldDetect() bool {
	if p.interval <= 1 {
		return true
	}
	return p.counter%p.interval == 1
}

// detect runs OCR on img and translates every line found. Lines whose
// translation fails keep their original text.
func (p *Processor) detect(ctx context.Context, img *image.RGBA) ([]Region, error) {
	callCtx := context.WithoutCancel(ctx)

	upload, err := encodeJPEG(img, p.quality)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrDetection, "encode upload", err)
	}
	detections, err := p.svc.Detect(callCtx, upload, lang.RecognitionCode(p.sourceLang))
	if err != nil {
		return nil, err
	}

	at := p.now()
	bounds := img.Bounds()
	regions := make([]Region, 0, len(detections))
	for _, d := range detections {
		text := strings.TrimSpace(d.Text)
		rect := d.Bounds().Intersect(bounds)
		if text == "" || rect.Empty() {
			continue
		}
		regions = append(regions, Region{Rect: rect, Original: text, DetectedAt: at})
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range regions {
		g.Go(func() error {
			start := time.Now()
			translated, err := p.svc.Translate(callCtx, p.sourceLang, p.targetLang, regions[i].Original)
			if err != nil {
				observe.Logger(ctx).Warn("overlay: translation failed, showing original text",
					"text", regions[i].Original, "err", err)
				regions[i].Translated = regions[i].Original
				return nil
			}
			p.tracker.RecordStageLatency(latency.StageTranslation, time.Since(start))
			regions[i].Translated = translated
			return nil
		})
	}
	_ = g.Wait()
	return regions, nil
}
