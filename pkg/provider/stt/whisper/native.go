package whisper

// NativeProvider needs libwhisper.a and whisper.h at link time, found through
// LIBRARY_PATH and C_INCLUDE_PATH.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/lingolens/pkg/provider/stt"
)

var _ stt.Recognizer = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in-process. The model is loaded once and
// shared; each call decodes on its own context. Concurrent calls beyond the
// configured limit wait their turn, since every inference already saturates
// its threads.
type NativeProvider struct {
	model      whisperlib.Model
	language   string
	silenceRMS float64
	threads    uint
	slots      *semaphore.Weighted
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*nativeConfig)

type nativeConfig struct {
	language    string
	silenceRMS  float64
	threads     int
	concurrency int
}

// WithNativeLanguage sets the language used when Recognize gets none.
// Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(c *nativeConfig) { c.language = lang }
}

// WithNativeSilenceThreshold sets the RMS level below which inference is
// skipped. Zero disables the check.
func WithNativeSilenceThreshold(rms float64) NativeOption {
	return func(c *nativeConfig) { c.silenceRMS = rms }
}

// WithThreads sets the CPU threads one inference uses. Zero keeps the
// whisper.cpp default.
func WithThreads(n int) NativeOption {
	return func(c *nativeConfig) { c.threads = n }
}

// WithConcurrency caps how many inferences run at once. The default is one
// per four CPUs, at least one.
func WithConcurrency(n int) NativeOption {
	return func(c *nativeConfig) { c.concurrency = n }
}

// NewNative loads the model at modelPath. Call Close to free it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	cfg := nativeConfig{
		language:    defaultLanguage,
		silenceRMS:  defaultRMSThreshold,
		concurrency: max(1, runtime.NumCPU()/4),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = 1
	}

	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &NativeProvider{
		model:      model,
		language:   cfg.language,
		silenceRMS: cfg.silenceRMS,
		threads:    uint(max(0, cfg.threads)),
		slots:      semaphore.NewWeighted(int64(cfg.concurrency)),
	}, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Recognize decodes wav and returns the joined segment text. A running
// inference cannot be interrupted, so ctx only bounds the wait for a slot.
func (p *NativeProvider) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	pcm, format, err := decodeWAV(wav)
	if err != nil {
		return "", err
	}
	if format.sampleRate != defaultSampleRate {
		return "", fmt.Errorf("whisper: sample rate %d Hz, want %d", format.sampleRate, defaultSampleRate)
	}
	if p.silenceRMS > 0 && computeRMS(pcm) < p.silenceRMS {
		return "", nil
	}
	if language == "" {
		language = p.language
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("whisper: wait for inference slot: %w", err)
	}
	defer p.slots.Release(1)

	return p.infer(pcmToFloat32Mono(pcm, format.channels), language)
}

func (p *NativeProvider) infer(samples []float32, language string) (string, error) {
	// Contexts are single-goroutine; the model is shared.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: unsupported language, using model default", "language", language, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var sb strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}
