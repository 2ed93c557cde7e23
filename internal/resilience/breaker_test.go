package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("backend down")

// fakeClock is advanced by hand so cooldowns need no sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// transitions records state hook calls.
type transitions struct {
	mu   sync.Mutex
	seen []string
}

func (tr *transitions) hook(_ string, from, to State) {
	tr.mu.Lock()
	tr.seen = append(tr.seen, from.String()+">"+to.String())
	tr.mu.Unlock()
}

func (tr *transitions) get() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.seen...)
}

func fail(context.Context) error    { return errTest }
func succeed(context.Context) error { return nil }

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker("stt/whisper", WithThreshold(0), WithCooldown(-1), WithProbes(-3))
	if b.threshold != DefaultThreshold || b.cooldown != DefaultCooldown || b.probes != DefaultProbes {
		t.Errorf("defaults not applied: %d %v %d", b.threshold, b.cooldown, b.probes)
	}
	if b.Name() != "stt/whisper" {
		t.Errorf("Name = %q", b.Name())
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBreaker("b", WithThreshold(3), WithClock(clock.Now))
	ctx := context.Background()

	for i := range 2 {
		if err := b.Do(ctx, fail); !errors.Is(err, errTest) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	// A success resets the streak.
	if err := b.Do(ctx, succeed); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		_ = b.Do(ctx, fail)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v after interrupted streak, want closed", b.State())
	}

	_ = b.Do(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker: err = %v, called = %v", err, called)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		probes    []func(context.Context) error
		wantState State
		wantHooks []string
	}{
		{
			name:      "probes succeed",
			probes:    []func(context.Context) error{succeed, succeed},
			wantState: StateClosed,
			wantHooks: []string{"closed>open", "open>half-open", "half-open>closed"},
		},
		{
			name:      "probe fails",
			probes:    []func(context.Context) error{succeed, fail},
			wantState: StateOpen,
			wantHooks: []string{"closed>open", "open>half-open", "half-open>open"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			var tr transitions
			b := NewBreaker("b",
				WithThreshold(1),
				WithCooldown(time.Minute),
				WithProbes(2),
				WithClock(clock.Now),
				WithStateHook(tr.hook),
			)
			ctx := context.Background()

			_ = b.Do(ctx, fail)
			clock.Advance(59 * time.Second)
			if err := b.Do(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
				t.Fatalf("before cooldown: err = %v", err)
			}
			clock.Advance(time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("after cooldown State() = %v", b.State())
			}

			for _, p := range tt.probes {
				_ = b.Do(ctx, p)
			}
			if b.State() != tt.wantState {
				t.Errorf("state = %v, want %v", b.State(), tt.wantState)
			}
			got := tr.get()
			if len(got) != len(tt.wantHooks) {
				t.Fatalf("hooks = %v, want %v", got, tt.wantHooks)
			}
			for i := range got {
				if got[i] != tt.wantHooks[i] {
					t.Errorf("hook[%d] = %q, want %q", i, got[i], tt.wantHooks[i])
				}
			}
		})
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBreaker("b", WithThreshold(1), WithProbes(1), WithClock(clock.Now))
	ctx := context.Background()
	_ = b.Do(ctx, fail)
	clock.Advance(DefaultCooldown)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := b.Do(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe: err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_CallerCancellationIsNeutral(t *testing.T) {
	t.Parallel()

	b := NewBreaker("b", WithThreshold(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v after caller cancel, want closed", b.State())
	}

	// A backend deadline while the caller is still waiting does count.
	_ = b.Do(context.Background(), func(context.Context) error { return context.DeadlineExceeded })
	if b.State() != StateOpen {
		t.Errorf("state = %v after backend timeout, want open", b.State())
	}
}

func TestBreaker_CancelledProbeFreesSlot(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBreaker("b", WithThreshold(1), WithProbes(1), WithClock(clock.Now))
	_ = b.Do(context.Background(), fail)
	clock.Advance(DefaultCooldown)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })

	if err := b.Do(context.Background(), succeed); err != nil {
		t.Fatalf("probe after cancelled probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	var tr transitions
	b := NewBreaker("b", WithThreshold(1), WithStateHook(tr.hook))
	_ = b.Do(context.Background(), fail)
	b.Reset()
	b.Reset()

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
	if got := tr.get(); len(got) != 2 || got[1] != "open>closed" {
		t.Errorf("hooks = %v", got)
	}
}
