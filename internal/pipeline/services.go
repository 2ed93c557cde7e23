package pipeline

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lingolens/internal/observe"
	"github.com/MrWong99/lingolens/pkg/media"
	"github.com/MrWong99/lingolens/pkg/provider/ocr"
	"github.com/MrWong99/lingolens/pkg/provider/stt"
	"github.com/MrWong99/lingolens/pkg/provider/translate"
)

// Provider kinds used as the "kind" metric attribute.
const (
	KindSTT        = "stt"
	KindTranslate  = "translate"
	KindOCR        = "ocr"
	KindTranscoder = "transcoder"
)

// Services bundles the external collaborators a pipeline calls out to. Every
// call is wrapped in a span, counted, and its failure classified with the
// taxonomy above so that callers only need [errors.Is] to decide what to do.
//
// The zero value is not usable; all four collaborators must be set. Services
// is safe for concurrent use when the collaborators are.
type Services struct {
	Recognizer stt.Recognizer
	Translator translate.Translator
	Detector   ocr.Detector
	Transcoder media.Transcoder

	// Names label the collaborators in metrics and spans. Empty names are
	// reported as "default".
	RecognizerName string
	TranslatorName string
	DetectorName   string

	// Metrics receives request counters and stage histograms. Nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Validate reports missing collaborators.
func (s *Services) Validate() error {
	var errs []error
	if s.Recognizer == nil {
		errs = append(errs, errors.New("pipeline: recognizer is required"))
	}
	if s.Translator == nil {
		errs = append(errs, errors.New("pipeline: translator is required"))
	}
	if s.Detector == nil {
		errs = append(errs, errors.New("pipeline: detector is required"))
	}
	if s.Transcoder == nil {
		errs = append(errs, errors.New("pipeline: transcoder is required"))
	}
	return errors.Join(errs...)
}

func (s *Services) metrics() *observe.Metrics {
	if s.Metrics != nil {
		return s.Metrics
	}
	return observe.DefaultMetrics()
}

// Recognize transcribes one WAV chunk. Failures are classified as
// [ErrTranscription].
func (s *Services) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	name := nameOr(s.RecognizerName)
	ctx, span := observe.StartSpan(ctx, "stt.recognize", trace.WithAttributes(
		attribute.String("provider", name),
		attribute.String("language", language),
		attribute.Int("audio.bytes", len(wav)),
	))

	text, err := s.Recognizer.Recognize(ctx, wav, language)
	s.record(ctx, name, KindSTT, err)
	observe.EndSpan(span, err)
	if err != nil {
		return "", Wrap(ErrTranscription, "recognize", err)
	}
	return text, nil
}

// Translate translates one piece of text. Failures are classified as
// [ErrTranslation].
func (s *Services) Translate(ctx context.Context, sourceLang, targetLang, text string) (string, error) {
	name := nameOr(s.TranslatorName)
	ctx, span := observe.StartSpan(ctx, "translate.translate", trace.WithAttributes(
		attribute.String("provider", name),
		attribute.String("source_language", sourceLang),
		attribute.String("target_language", targetLang),
	))

	out, err := s.Translator.Translate(ctx, sourceLang, targetLang, text)
	s.record(ctx, name, KindTranslate, err)
	observe.EndSpan(span, err)
	if err != nil {
		return "", Wrap(ErrTranslation, "translate", err)
	}
	return out, nil
}

// Detect runs OCR on one encoded frame and records the detection latency.
// Failures are classified as [ErrDetection].
func (s *Services) Detect(ctx context.Context, img []byte, language string) ([]ocr.Detection, error) {
	name := nameOr(s.DetectorName)
	ctx, span := observe.StartSpan(ctx, "ocr.detect", trace.WithAttributes(
		attribute.String("provider", name),
		attribute.Int("image.bytes", len(img)),
	))

	start := time.Now()
	dets, err := s.Detector.DetectText(ctx, img, language)
	s.metrics().RecordStageLatency(ctx, "detection", time.Since(start))
	s.record(ctx, name, KindOCR, err)
	span.SetAttributes(attribute.Int("detections", len(dets)))
	observe.EndSpan(span, err)
	if err != nil {
		return nil, Wrap(ErrDetection, "detect", err)
	}
	return dets, nil
}

// MediaDuration returns the playback length of mediaPath.
func (s *Services) MediaDuration(ctx context.Context, mediaPath string) (time.Duration, error) {
	return s.Transcoder.Duration(ctx, mediaPath)
}

// ExtractAudio writes the [start, start+length) window of mediaPath to dst as
// WAV. The transcoder is killed once timeout elapses (zero means no limit),
// which is reported as [ErrTranscodeTimeout]; any other failure as
// [ErrTranscription].
func (s *Services) ExtractAudio(ctx context.Context, timeout time.Duration, mediaPath, dst string, start, length time.Duration) error {
	return s.transcode(ctx, "extract", timeout, func(ctx context.Context) error {
		return s.Transcoder.ExtractAudio(ctx, mediaPath, dst, start, length)
	})
}

// Remux converts src to WAV at dst under the same timeout rules as
// [Services.ExtractAudio].
func (s *Services) Remux(ctx context.Context, timeout time.Duration, src, dst string) error {
	return s.transcode(ctx, "remux", timeout, func(ctx context.Context) error {
		return s.Transcoder.Remux(ctx, src, dst)
	})
}

func (s *Services) transcode(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "media.transcode", trace.WithAttributes(
		attribute.String("op", op),
	))

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	s.metrics().RecordStageLatency(ctx, "transcode", time.Since(start))
	s.record(ctx, "ffmpeg", KindTranscoder, err)
	observe.EndSpan(span, err)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(ErrTranscodeTimeout, op, err)
	default:
		return Wrap(ErrTranscription, op, err)
	}
}

// record updates the request and error counters for one collaborator call.
func (s *Services) record(ctx context.Context, provider, kind string, err error) {
	m := s.metrics()
	if err != nil {
		m.RecordProviderRequest(ctx, provider, kind, "error")
		m.RecordProviderError(ctx, provider, kind)
		return
	}
	m.RecordProviderRequest(ctx, provider, kind, "ok")
}

func nameOr(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
