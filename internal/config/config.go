// Package config provides the configuration schema, loader, and provider registry
// for the lingolens translation server.
package config

import "time"

// LogLevel controls log verbosity for the lingolens server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Pipeline defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr              = ":8080"
	DefaultSourceLanguage          = "en"
	DefaultTargetLanguage          = "es"
	DefaultDetectionInterval       = 30
	DefaultLiveDetectionInterval   = 1
	DefaultLatencyThreshold        = 3 * time.Second
	DefaultMinAudioChunkBytes      = 1000
	DefaultTranscodeTimeout        = 5 * time.Second
	DefaultSegmentTranscodeTimeout = 30 * time.Second
	DefaultFullTrackTimeout        = 5 * time.Minute
	DefaultJPEGQuality             = 80
	DefaultTranslateConcurrency    = 4
	DefaultStaleTempAge            = time.Hour

	DefaultDedupWindow           = time.Second
	DefaultFullTranscriptHistory = 5
	DefaultNoveltyThreshold      = 0.85
)

// Config is the root configuration structure for lingolens.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Observer  ObserverConfig  `yaml:"observer"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// ServerConfig holds network and logging settings for the lingolens server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// TraceSampleRatio is the fraction of new traces sampled. Zero samples
	// every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// external capability. Each entry selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	STT        ProviderEntry    `yaml:"stt"`
	Translate  ProviderEntry    `yaml:"translate"`
	OCR        ProviderEntry    `yaml:"ocr"`
	Transcoder TranscoderConfig `yaml:"transcoder"`

	// Breaker tunes the circuit breaker placed in front of every provider
	// backend, primaries and fallbacks alike.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes provider circuit breakers. Zero values keep the
// built-in defaults.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that open a breaker.
	MaxFailures int `yaml:"max_failures"`

	// Cooldown is how long an open breaker rejects calls before probing.
	Cooldown time.Duration `yaml:"cooldown"`

	// Probes is the number of successful calls that close a probing breaker.
	Probes int `yaml:"probes"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "azure").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when the primary provider fails or its
	// circuit breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// TranscoderConfig locates the ffmpeg tooling.
type TranscoderConfig struct {
	// FFmpegPath defaults to "ffmpeg" on PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath defaults to "ffprobe" on PATH.
	FFprobePath string `yaml:"ffprobe_path"`
}

// PipelineConfig tunes the file and live pipelines. Zero values are replaced
// by the Default* constants in [ApplyDefaults].
type PipelineConfig struct {
	SourceLanguage string `yaml:"source_language"`
	TargetLanguage string `yaml:"target_language"`

	// DetectionInterval runs text detection every Nth frame in file mode.
	DetectionInterval int `yaml:"detection_interval"`

	// LiveDetectionInterval is the same knob for live capture.
	LiveDetectionInterval int `yaml:"live_detection_interval"`

	// LatencyThreshold is the success cut-off for latency samples.
	LatencyThreshold time.Duration `yaml:"latency_threshold"`

	// MinAudioChunkBytes drops smaller live audio chunks without processing.
	MinAudioChunkBytes int `yaml:"min_audio_chunk_bytes"`

	// TranscodeTimeout bounds each live chunk conversion.
	TranscodeTimeout time.Duration `yaml:"transcode_timeout"`

	// SegmentTranscodeTimeout bounds each per-window extraction in file mode.
	SegmentTranscodeTimeout time.Duration `yaml:"segment_transcode_timeout"`

	// FullTrackTimeout bounds the whole-track extraction in file mode.
	FullTrackTimeout time.Duration `yaml:"full_track_timeout"`

	JPEGQuality          int `yaml:"jpeg_quality"`
	TranslateConcurrency int `yaml:"translate_concurrency"`

	// TempDir is the root for per-session artifact directories.
	TempDir string `yaml:"temp_dir"`

	// StaleTempAge removes leftover session directories older than this on
	// startup.
	StaleTempAge time.Duration `yaml:"stale_temp_age"`

	// Capture configures reconnection of server-side live capture sources.
	Capture CaptureConfig `yaml:"capture"`
}

// CaptureConfig controls how a dropped capture source is reopened.
type CaptureConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// ObserverConfig controls what observers receive.
type ObserverConfig struct {
	// DedupWindow suppresses identical progressive transcripts inside it.
	DedupWindow time.Duration `yaml:"dedup_window"`

	// FullTranscriptHistory is how many final transcripts are remembered per
	// observer for duplicate suppression.
	FullTranscriptHistory int `yaml:"full_transcript_history"`

	// NoveltyThreshold is the Jaro-Winkler similarity above which a live
	// transcript counts as a repeat.
	NoveltyThreshold float64 `yaml:"novelty_threshold"`

	// AllowedOrigins are extra host patterns accepted for WebSocket upgrades.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ArchiveConfig enables transcript archiving.
type ArchiveConfig struct {
	// PostgresDSN is the connection string; empty disables archiving.
	PostgresDSN string `yaml:"postgres_dsn"`
}
