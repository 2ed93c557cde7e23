// Package resilience guards provider calls with circuit breakers and
// fails over between backends of the same kind.
//
// A [Breaker] stops calling a backend after repeated failures and lets a
// few probe calls through once its cooldown has passed. A [Group] holds one
// breaker per backend and walks them in order until one answers. The
// [RecognizerFallback], [TranslatorFallback] and [DetectorFallback] adapters
// expose a group as the provider interface the pipeline consumes.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown has passed.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. One
	// failed probe re-opens the breaker; enough successful ones close it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker defaults.
const (
	DefaultThreshold = 5
	DefaultCooldown  = 30 * time.Second
	DefaultProbes    = 3
)

// StateHook observes breaker transitions.
type StateHook func(name string, from, to State)

// BreakerOption configures a [Breaker].
type BreakerOption func(*Breaker)

// WithThreshold sets how many consecutive failures open the breaker.
func WithThreshold(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithProbes sets how many successful probes close a half-open breaker.
// It also caps the probes in flight at once.
func WithProbes(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.probes = n
		}
	}
}

// WithStateHook registers fn for every state transition. fn runs with the
// breaker's lock released.
func WithStateHook(fn StateHook) BreakerOption {
	return func(b *Breaker) { b.hooks = append(b.hooks, fn) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	probes    int
	hooks     []StateHook
	now       func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int
	succeeded int
}

// NewBreaker returns a closed breaker labelled name.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: DefaultThreshold,
		cooldown:  DefaultCooldown,
		probes:    DefaultProbes,
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns the label given to [NewBreaker].
func (b *Breaker) Name() string { return b.name }

// Do runs fn unless the breaker is open. Failures while ctx is still live
// count against the backend. When ctx is done the outcome is ignored, since
// the caller gave up rather than the backend failing.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	switch {
	case err == nil:
		b.settle(probe, true)
	case ctx.Err() != nil:
		b.release(probe)
	default:
		b.settle(probe, false)
	}
	return err
}

// admit reserves a call slot, moving an expired open breaker to half-open.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var from State
	moved := false
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		from, moved = b.transition(StateHalfOpen), true
		b.inFlight, b.succeeded = 0, 0
	}
	if b.state == StateHalfOpen {
		if b.inFlight+b.succeeded >= b.probes {
			b.mu.Unlock()
			b.notify(moved, from, StateHalfOpen)
			return false, ErrCircuitOpen
		}
		b.inFlight++
		probe = true
	}
	b.mu.Unlock()
	if moved {
		slog.Info("circuit breaker probing", "name", b.name)
	}
	b.notify(moved, from, StateHalfOpen)
	return probe, nil
}

func (b *Breaker) settle(probe, ok bool) {
	b.mu.Lock()
	var (
		from  State
		to    State
		moved bool
	)
	switch {
	case probe && b.state == StateHalfOpen:
		b.inFlight--
		if !ok {
			b.openedAt = b.now()
			to, from, moved = StateOpen, b.transition(StateOpen), true
			break
		}
		b.succeeded++
		if b.succeeded >= b.probes {
			b.failures = 0
			to, from, moved = StateClosed, b.transition(StateClosed), true
		}
	case b.state == StateClosed:
		if ok {
			b.failures = 0
			break
		}
		b.failures++
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			to, from, moved = StateOpen, b.transition(StateOpen), true
		}
	}
	failures := b.failures
	b.mu.Unlock()

	if moved {
		switch to {
		case StateOpen:
			slog.Warn("circuit breaker opened", "name", b.name, "from", from.String(), "consecutive_failures", failures)
		case StateClosed:
			slog.Info("circuit breaker closed after successful probes", "name", b.name)
		}
	}
	b.notify(moved, from, to)
}

// release returns a probe slot without judging the backend.
func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	if b.state == StateHalfOpen && b.inFlight > 0 {
		b.inFlight--
	}
	b.mu.Unlock()
}

// transition sets the new state and returns the old one. Must hold b.mu.
func (b *Breaker) transition(to State) State {
	from := b.state
	b.state = to
	return from
}

func (b *Breaker) notify(moved bool, from, to State) {
	if !moved {
		return
	}
	for _, h := range b.hooks {
		h(b.name, from, to)
	}
}

// State reports the current state. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the move itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.transition(StateClosed)
	b.failures, b.inFlight, b.succeeded = 0, 0, 0
	b.mu.Unlock()
	b.notify(from != StateClosed, from, StateClosed)
}
