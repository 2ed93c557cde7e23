// Package observe provides application-wide observability primitives for
// lingolens: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all lingolens metrics.
const meterName = "github.com/MrWong99/lingolens"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognitionDuration tracks speech recognition latency.
	RecognitionDuration metric.Float64Histogram

	// TranslationDuration tracks text translation latency.
	TranslationDuration metric.Float64Histogram

	// OverlayDuration tracks overlay rendering and frame encoding latency.
	OverlayDuration metric.Float64Histogram

	// DetectionDuration tracks on-screen text detection (OCR) latency.
	DetectionDuration metric.Float64Histogram

	// TranscodeDuration tracks external transcoder invocations.
	TranscodeDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// FramesEmitted counts rendered frames pushed to observers.
	FramesEmitted metric.Int64Counter

	// SegmentsProcessed counts audio segments and live chunks. Use with
	// attributes: attribute.String("mode", ...), attribute.String("status", ...)
	SegmentsProcessed metric.Int64Counter

	// EventsSuppressed counts transcript events dropped by observer-side
	// deduplication.
	EventsSuppressed metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("breaker", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running translation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveObservers tracks the number of connected observer channels.
	ActiveObservers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) around the
// 3 s success threshold of the translation pipeline.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognitionDuration, err = m.Float64Histogram("lingolens.recognition.duration",
		metric.WithDescription("Latency of speech recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslationDuration, err = m.Float64Histogram("lingolens.translation.duration",
		metric.WithDescription("Latency of text translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OverlayDuration, err = m.Float64Histogram("lingolens.overlay.duration",
		metric.WithDescription("Latency of overlay rendering and frame encoding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DetectionDuration, err = m.Float64Histogram("lingolens.detection.duration",
		metric.WithDescription("Latency of on-screen text detection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscodeDuration, err = m.Float64Histogram("lingolens.transcode.duration",
		metric.WithDescription("Latency of external transcoder runs."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("lingolens.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.FramesEmitted, err = m.Int64Counter("lingolens.frames.emitted",
		metric.WithDescription("Total rendered frames pushed to observers."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsProcessed, err = m.Int64Counter("lingolens.segments.processed",
		metric.WithDescription("Total audio segments and live chunks by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.EventsSuppressed, err = m.Int64Counter("lingolens.events.suppressed",
		metric.WithDescription("Total duplicate transcript events suppressed before delivery."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("lingolens.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("lingolens.provider.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and entered state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("lingolens.active_sessions",
		metric.WithDescription("Number of running translation sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveObservers, err = m.Int64UpDownCounter("lingolens.active_observers",
		metric.WithDescription("Number of connected observer channels."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lingolens.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status. Observer websockets report their connection lifetime."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStageLatency records d on the histogram that belongs to the named
// pipeline stage ("recognition", "translation", "overlay", "detection",
// "transcode"). Unknown stages are ignored.
func (m *Metrics) RecordStageLatency(ctx context.Context, stage string, d time.Duration) {
	var h metric.Float64Histogram
	switch stage {
	case "recognition":
		h = m.RecognitionDuration
	case "translation":
		h = m.TranslationDuration
	case "overlay":
		h = m.OverlayDuration
	case "detection":
		h = m.DetectionDuration
	case "transcode":
		h = m.TranscodeDuration
	default:
		return
	}
	h.Record(ctx, d.Seconds())
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordSegment records one processed audio segment or live chunk.
func (m *Metrics) RecordSegment(ctx context.Context, mode, status string) {
	m.SegmentsProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition counts a breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("state", state),
		),
	)
}
