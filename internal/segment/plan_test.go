package segment

import (
	"testing"
	"time"
)

func TestCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total time.Duration
		want  int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Second, 3},
		{20 * time.Second, 3},
		{29*time.Second + 999*time.Millisecond, 3},
		{30 * time.Second, 3},
		{45 * time.Second, 4},
		{99 * time.Second, 9},
		{120 * time.Second, 10},
		{2 * time.Hour, 10},
	}
	for _, tt := range tests {
		if got := Count(tt.total); got != tt.want {
			t.Errorf("Count(%v) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestPlan_CoversWholeTrack(t *testing.T) {
	t.Parallel()

	totals := []time.Duration{
		time.Millisecond,
		7 * time.Second,
		20 * time.Second,
		45 * time.Second,
		61*time.Second + 333*time.Millisecond,
		120 * time.Second,
		3*time.Hour + 7*time.Nanosecond,
	}
	for _, total := range totals {
		windows := Plan(total)
		if len(windows) != Count(total) {
			t.Fatalf("Plan(%v): %d windows, want %d", total, len(windows), Count(total))
		}
		var cursor time.Duration
		for i, w := range windows {
			if w.Index != i+1 {
				t.Errorf("Plan(%v)[%d].Index = %d", total, i, w.Index)
			}
			if w.Start != cursor {
				t.Errorf("Plan(%v)[%d] starts at %v, want %v (gap or overlap)", total, i, w.Start, cursor)
			}
			if w.Duration < 0 {
				t.Errorf("Plan(%v)[%d] has negative duration", total, i)
			}
			cursor = w.End()
		}
		if cursor != total {
			t.Errorf("Plan(%v) ends at %v", total, cursor)
		}
	}
}

func TestPlan_EvenSplit(t *testing.T) {
	t.Parallel()

	windows := Plan(45 * time.Second)
	for _, w := range windows {
		if w.Duration != 11250*time.Millisecond {
			t.Errorf("window %d duration = %v, want 11.25s", w.Index, w.Duration)
		}
	}
}

func TestPlan_Empty(t *testing.T) {
	t.Parallel()

	if got := Plan(0); got != nil {
		t.Errorf("Plan(0) = %v, want nil", got)
	}
}

func TestPacingDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		seg  time.Duration
		want time.Duration
	}{
		{0, 0},
		{time.Second, 200 * time.Millisecond},
		{5 * time.Second, time.Second},
		{12 * time.Second, time.Second},
	}
	for _, tt := range tests {
		if got := PacingDelay(tt.seg); got != tt.want {
			t.Errorf("PacingDelay(%v) = %v, want %v", tt.seg, got, tt.want)
		}
	}
}
