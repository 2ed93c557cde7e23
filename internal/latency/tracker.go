// Package latency measures how long the translation pipeline spends in each
// stage and summarises the samples into averages, nearest-rank percentiles,
// and a success rate against a shared threshold.
//
// Recognition requests are timed with start/end correlation keyed by an opaque
// request ID ([Tracker.StartTracking], [Tracker.EndTracking],
// [Tracker.CancelTracking]); translation and overlay timings are measured by
// the caller and appended directly ([Tracker.RecordStageLatency]).
//
// Tracker is safe for concurrent use. One tracker is owned by each session.
package latency

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/lingolens/internal/observe"
)

// Stage names a timed pipeline stage.
type Stage string

const (
	StageRecognition Stage = "recognition"
	StageTranslation Stage = "translation"
	StageOverlay     Stage = "overlay"
)

// Stages lists every stage in reporting order.
var Stages = []Stage{StageRecognition, StageTranslation, StageOverlay}

// DefaultThreshold is the latency at or below which a sample counts as a
// success.
const DefaultThreshold = 3 * time.Second

// Sample is one recorded measurement. Samples are append-only.
type Sample struct {
	RequestID string
	Stage     Stage
	Elapsed   time.Duration
	Timestamp time.Time
}

// Stats summarises the samples of one stage. The zero value means no samples.
type Stats struct {
	Average time.Duration
	P95     time.Duration
	P99     time.Duration
	Count   int
}

// Report is the per-stage summary returned by [Tracker.Report].
type Report struct {
	Stage       Stage   `json:"stage"`
	Count       int     `json:"count"`
	AverageMs   float64 `json:"average_ms"`
	P95Ms       float64 `json:"p95_ms"`
	P99Ms       float64 `json:"p99_ms"`
	SuccessRate float64 `json:"success_rate"`
}

// Option configures a [Tracker].
type Option func(*Tracker)

// WithThreshold overrides [DefaultThreshold].
func WithThreshold(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.threshold = d
		}
	}
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithMetrics mirrors every sample into the stage histograms of m.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// Tracker is a thread-safe latency registry. A single mutex guards the pending
// start map and all sample lists, so a reader never observes a partially
// appended sample.
type Tracker struct {
	threshold time.Duration
	now       func() time.Time
	metrics   *observe.Metrics

	mu      sync.Mutex
	pending map[string]time.Time
	samples map[Stage][]Sample
}

// New creates an empty [Tracker].
func New(opts ...Option) *Tracker {
	t := &Tracker{
		threshold: DefaultThreshold,
		now:       time.Now,
		pending:   make(map[string]time.Time),
		samples:   make(map[Stage][]Sample, len(Stages)),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Threshold returns the success threshold shared by all stages.
func (t *Tracker) Threshold() time.Duration {
	return t.threshold
}

// StartTracking records the current time as the start of recognition request
// requestID. Calling it twice for the same ID overwrites the first start time;
// the overwrite is logged because callers are expected to use unique IDs.
func (t *Tracker) StartTracking(requestID string) {
	now := t.now()

	t.mu.Lock()
	_, dup := t.pending[requestID]
	t.pending[requestID] = now
	t.mu.Unlock()

	if dup {
		slog.Warn("latency: duplicate start for request, overwriting start time", "request_id", requestID)
	}
}

// EndTracking completes request requestID, appends a recognition sample, and
// returns the elapsed time. It returns false if the ID was never started or
// was already ended or cancelled.
func (t *Tracker) EndTracking(requestID string) (time.Duration, bool) {
	now := t.now()

	t.mu.Lock()
	start, ok := t.pending[requestID]
	if !ok {
		t.mu.Unlock()
		return 0, false
	}
	delete(t.pending, requestID)
	elapsed := now.Sub(start)
	t.appendLocked(Sample{RequestID: requestID, Stage: StageRecognition, Elapsed: elapsed, Timestamp: now})
	t.mu.Unlock()

	t.mirror(StageRecognition, elapsed)
	return elapsed, true
}

// CancelTracking drops the pending start of requestID without recording a
// sample. It reports whether an entry was removed.
func (t *Tracker) CancelTracking(requestID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[requestID]; !ok {
		return false
	}
	delete(t.pending, requestID)
	return true
}

// Pending returns the number of started but not yet ended requests.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// RecordStageLatency appends a sample measured by the caller.
func (t *Tracker) RecordStageLatency(stage Stage, elapsed time.Duration) {
	now := t.now()

	t.mu.Lock()
	t.appendLocked(Sample{Stage: stage, Elapsed: elapsed, Timestamp: now})
	t.mu.Unlock()

	t.mirror(stage, elapsed)
}

// Samples returns a copy of the samples recorded for stage.
func (t *Tracker) Samples(stage Stage) []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.samples[stage])
}

// Stats computes the average and the nearest-rank p95 and p99 of stage. The
// samples are copied under the lock and sorted outside it.
func (t *Tracker) Stats(stage Stage) Stats {
	values := t.snapshot(stage)
	n := len(values)
	if n == 0 {
		return Stats{}
	}
	slices.Sort(values)

	var sum time.Duration
	for _, v := range values {
		sum += v
	}
	return Stats{
		Average: sum / time.Duration(n),
		P95:     percentile(values, 0.95),
		P99:     percentile(values, 0.99),
		Count:   n,
	}
}

// SuccessRate returns the percentage (0-100) of stage samples at or below the
// threshold. It returns 0 when there are no samples.
func (t *Tracker) SuccessRate(stage Stage) float64 {
	values := t.snapshot(stage)
	if len(values) == 0 {
		return 0
	}
	ok := 0
	for _, v := range values {
		if v <= t.threshold {
			ok++
		}
	}
	return float64(ok) / float64(len(values)) * 100
}

// Report summarises every stage in [Stages] order.
func (t *Tracker) Report() []Report {
	out := make([]Report, 0, len(Stages))
	for _, s := range Stages {
		st := t.Stats(s)
		out = append(out, Report{
			Stage:       s,
			Count:       st.Count,
			AverageMs:   ms(st.Average),
			P95Ms:       ms(st.P95),
			P99Ms:       ms(st.P99),
			SuccessRate: t.SuccessRate(s),
		})
	}
	return out
}

// Reset discards all pending starts and samples. Used at session teardown.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.pending)
	clear(t.samples)
}

// appendLocked appends s. Must be called with t.mu held.
func (t *Tracker) appendLocked(s Sample) {
	t.samples[s.Stage] = append(t.samples[s.Stage], s)
}

func (t *Tracker) snapshot(stage Stage) []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	src := t.samples[stage]
	values := make([]time.Duration, len(src))
	for i, s := range src {
		values[i] = s.Elapsed
	}
	return values
}

func (t *Tracker) mirror(stage Stage, d time.Duration) {
	if t.metrics == nil {
		return
	}
	t.metrics.RecordStageLatency(context.Background(), string(stage), d)
}

// percentile returns the nearest-rank value at p from a sorted slice: index
// floor(n*p), clamped to the last element.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
