package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		fail      map[string]bool
		want      string
		wantErr   error
		wantTried []string
	}{
		{name: "primary answers", want: "primary", wantTried: []string{"primary"}},
		{
			name:      "fails over",
			fail:      map[string]bool{"primary": true},
			want:      "secondary",
			wantTried: []string{"primary", "secondary"},
		},
		{
			name:      "all fail",
			fail:      map[string]bool{"primary": true, "secondary": true},
			wantErr:   ErrAllFailed,
			wantTried: []string{"primary", "secondary"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := NewGroup("stt", "primary", "primary")
			g.Add("secondary", "secondary")

			var tried []string
			got, err := Call(context.Background(), g, func(_ context.Context, v string) (string, error) {
				tried = append(tried, v)
				if tt.fail[v] {
					return "", errTest
				}
				return v, nil
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want %v wrapping the backend error", err, tt.wantErr)
				}
				if !strings.HasPrefix(err.Error(), "stt: ") {
					t.Errorf("err %q not prefixed with kind", err)
				}
			} else if err != nil || got != tt.want {
				t.Fatalf("Call = (%q, %v), want %q", got, err, tt.want)
			}
			if strings.Join(tried, ",") != strings.Join(tt.wantTried, ",") {
				t.Errorf("tried %v, want %v", tried, tt.wantTried)
			}
		})
	}
}

func TestCall_SkipsOpenMember(t *testing.T) {
	t.Parallel()

	g := NewGroup("translate", "azure", "azure", WithThreshold(2), WithCooldown(time.Hour))
	g.Add("ollama", "ollama")

	var primaryCalls int
	fn := func(_ context.Context, v string) (string, error) {
		if v == "azure" {
			primaryCalls++
			return "", errTest
		}
		return v, nil
	}
	for range 4 {
		if got, err := Call(context.Background(), g, fn); err != nil || got != "ollama" {
			t.Fatalf("Call = (%q, %v)", got, err)
		}
	}
	if primaryCalls != 2 {
		t.Errorf("primary called %d times, want 2", primaryCalls)
	}
	if s := g.States(); s["azure"] != StateOpen || s["ollama"] != StateClosed {
		t.Errorf("States = %v", s)
	}
}

func TestCall_StopsWhenCallerGivesUp(t *testing.T) {
	t.Parallel()

	g := NewGroup("ocr", "a", "a")
	g.Add("b", "b")

	ctx, cancel := context.WithCancel(context.Background())
	var tried []string
	_, err := Call(ctx, g, func(ctx context.Context, v string) (string, error) {
		tried = append(tried, v)
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("cancellation reported as ErrAllFailed")
	}
	if len(tried) != 1 {
		t.Errorf("tried %v, want only the first member", tried)
	}
}

func TestGroup_Healthy(t *testing.T) {
	t.Parallel()

	g := NewGroup("stt", "whisper", 1, WithThreshold(1), WithCooldown(time.Hour))
	g.Add("deepgram", 2)
	if names := g.Names(); len(names) != 2 || names[0] != "whisper" || names[1] != "deepgram" {
		t.Fatalf("Names = %v", names)
	}

	primaryDown := func(_ context.Context, v int) (int, error) {
		if v == 1 {
			return 0, errTest
		}
		return v, nil
	}
	if got, err := Call(context.Background(), g, primaryDown); err != nil || got != 2 {
		t.Fatalf("Call = (%d, %v)", got, err)
	}
	if err := g.Healthy(context.Background()); err != nil {
		t.Fatalf("Healthy after one breaker opens: %v", err)
	}

	failing := func(context.Context, int) (int, error) { return 0, errTest }
	_, _ = Call(context.Background(), g, failing)
	err := g.Healthy(context.Background())
	if err == nil {
		t.Fatal("Healthy = nil with every breaker open")
	}
	if !strings.Contains(err.Error(), "whisper, deepgram") {
		t.Errorf("err = %q", err)
	}
}
