package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider, server,
// and archive changes need a restart and are reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is set when any tunable in [PipelineConfig] changed.
	// New sessions pick up NewPipeline; running sessions keep their values.
	PipelineChanged bool
	NewPipeline     PipelineConfig

	// ObserverChanged is set when any field of [ObserverConfig] changed.
	ObserverChanged bool
	NewObserver     ObserverConfig

	// RestartRequired lists the top-level sections whose changes are ignored
	// until the process restarts.
	RestartRequired []string
}

// Changed reports whether d contains any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PipelineChanged || d.ObserverChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pipeline != new.Pipeline {
		d.PipelineChanged = true
		d.NewPipeline = new.Pipeline
	}

	if !observerEqual(old.Observer, new.Observer) {
		d.ObserverChanged = true
		d.NewObserver = new.Observer
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Archive != new.Archive {
		d.RestartRequired = append(d.RestartRequired, "archive")
	}

	return d
}

func observerEqual(a, b ObserverConfig) bool {
	return a.DedupWindow == b.DedupWindow &&
		a.FullTranscriptHistory == b.FullTranscriptHistory &&
		a.NoveltyThreshold == b.NoveltyThreshold &&
		slices.Equal(a.AllowedOrigins, b.AllowedOrigins)
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b ProvidersConfig) bool {
	return a.Transcoder == b.Transcoder &&
		a.Breaker == b.Breaker &&
		entryEqual(a.STT, b.STT) &&
		entryEqual(a.Translate, b.Translate) &&
		entryEqual(a.OCR, b.OCR)
}

// entryEqual compares two entries. Option values are compared by their
// printed form.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	for i := range a.Fallbacks {
		if !entryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}
