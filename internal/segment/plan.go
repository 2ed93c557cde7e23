package segment

import "time"

const (
	// shortMediaSegments is the segment count for media under shortMediaLimit.
	shortMediaSegments = 3
	shortMediaLimit    = 30 * time.Second

	// longMediaSpan is the nominal segment length for longer media, capped at
	// maxSegments windows.
	longMediaSpan = 10 * time.Second
	maxSegments   = 10

	maxPacingDelay = time.Second
)

// Window is one time slice [Start, Start+Duration) of a media file's audio.
type Window struct {
	// Index is 1-based and increases with Start.
	Index    int
	Start    time.Duration
	Duration time.Duration
}

// End returns the exclusive end of the window.
func (w Window) End() time.Duration { return w.Start + w.Duration }

// Count returns the number of windows for media of the given length: 3 below
// 30 s, otherwise one per 10 s capped at 10. Zero for non-positive lengths.
func Count(total time.Duration) int {
	switch {
	case total <= 0:
		return 0
	case total < shortMediaLimit:
		return shortMediaSegments
	default:
		return min(maxSegments, int(total/longMediaSpan))
	}
}

// Plan splits [0, total) into contiguous, non-overlapping windows. Boundaries
// are computed from the total rather than by accumulating a rounded segment
// length, so the last window always ends exactly at total.
func Plan(total time.Duration) []Window {
	n := Count(total)
	if n == 0 {
		return nil
	}
	windows := make([]Window, n)
	for i := range n {
		start := total * time.Duration(i) / time.Duration(n)
		end := total * time.Duration(i+1) / time.Duration(n)
		windows[i] = Window{Index: i + 1, Start: start, Duration: end - start}
	}
	return windows
}

// PacingDelay is the pause between two segments: a fifth of the segment
// length, capped at one second.
func PacingDelay(segment time.Duration) time.Duration {
	if segment <= 0 {
		return 0
	}
	return min(maxPacingDelay, segment/5)
}
