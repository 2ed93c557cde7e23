package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/lingolens/pkg/lang"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":       {"whisper", "whisper-native", "openai", "deepgram"},
	"translate": {"azure", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"ocr":       {"http"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults, and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults replaces zero values in cfg with the package defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	p := &cfg.Pipeline
	if p.SourceLanguage == "" {
		p.SourceLanguage = DefaultSourceLanguage
	}
	if p.TargetLanguage == "" {
		p.TargetLanguage = DefaultTargetLanguage
	}
	setDefault(&p.DetectionInterval, DefaultDetectionInterval)
	setDefault(&p.LiveDetectionInterval, DefaultLiveDetectionInterval)
	setDefault(&p.LatencyThreshold, DefaultLatencyThreshold)
	setDefault(&p.MinAudioChunkBytes, DefaultMinAudioChunkBytes)
	setDefault(&p.TranscodeTimeout, DefaultTranscodeTimeout)
	setDefault(&p.SegmentTranscodeTimeout, DefaultSegmentTranscodeTimeout)
	setDefault(&p.FullTrackTimeout, DefaultFullTrackTimeout)
	setDefault(&p.JPEGQuality, DefaultJPEGQuality)
	setDefault(&p.TranslateConcurrency, DefaultTranslateConcurrency)
	setDefault(&p.StaleTempAge, DefaultStaleTempAge)
	if p.TempDir == "" {
		p.TempDir = os.TempDir()
	}

	o := &cfg.Observer
	setDefault(&o.DedupWindow, DefaultDedupWindow)
	setDefault(&o.FullTranscriptHistory, DefaultFullTranscriptHistory)
	setDefault(&o.NoveltyThreshold, DefaultNoveltyThreshold)
}

func setDefault[T int | float64 | ~int64](v *T, def T) {
	if *v == 0 {
		*v = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be between 0 and 1", r))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	errs = append(errs, validateEntry("stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntry("translate", cfg.Providers.Translate)...)
	errs = append(errs, validateEntry("ocr", cfg.Providers.OCR)...)
	if b := cfg.Providers.Breaker; b.MaxFailures < 0 || b.Cooldown < 0 || b.Probes < 0 {
		errs = append(errs, errors.New("providers.breaker values must not be negative"))
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; audio will not be transcribed")
	}
	if cfg.Providers.OCR.Name == "" {
		slog.Warn("providers.ocr is not configured; frames will pass through without overlays")
	}

	// Pipeline
	p := cfg.Pipeline
	if err := lang.ValidatePair(p.SourceLanguage, p.TargetLanguage); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	if p.DetectionInterval < 0 {
		errs = append(errs, fmt.Errorf("pipeline.detection_interval %d must not be negative", p.DetectionInterval))
	}
	if p.LiveDetectionInterval < 0 {
		errs = append(errs, fmt.Errorf("pipeline.live_detection_interval %d must not be negative", p.LiveDetectionInterval))
	}
	if p.JPEGQuality < 1 || p.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("pipeline.jpeg_quality %d is out of range [1, 100]", p.JPEGQuality))
	}
	if p.MinAudioChunkBytes < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_audio_chunk_bytes %d must not be negative", p.MinAudioChunkBytes))
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"latency_threshold", p.LatencyThreshold},
		{"transcode_timeout", p.TranscodeTimeout},
		{"segment_transcode_timeout", p.SegmentTranscodeTimeout},
		{"full_track_timeout", p.FullTrackTimeout},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("pipeline.%s %v must not be negative", d.name, d.val))
		}
	}
	if p.Capture.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.capture.max_retries %d must not be negative", p.Capture.MaxRetries))
	}

	// Observer
	o := cfg.Observer
	if o.NoveltyThreshold <= 0 || o.NoveltyThreshold > 1 {
		errs = append(errs, fmt.Errorf("observer.novelty_threshold %.2f is out of range (0, 1]", o.NoveltyThreshold))
	}
	if o.FullTranscriptHistory < 0 {
		errs = append(errs, fmt.Errorf("observer.full_transcript_history %d must not be negative", o.FullTranscriptHistory))
	}

	if cfg.Archive.PostgresDSN == "" {
		slog.Debug("archive.postgres_dsn is empty; transcripts will not be archived")
	}

	return errors.Join(errs...)
}

// validateEntry checks a provider entry and its fallbacks.
func validateEntry(kind string, e ProviderEntry) []error {
	var errs []error
	validateProviderName(kind, e.Name)
	if e.Name == "" && len(e.Fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("providers.%s: fallbacks require a primary provider name", kind))
	}
	for i, fb := range e.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d]: nested fallbacks are not supported", kind, i))
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
