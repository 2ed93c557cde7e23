package overlay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lingolens/internal/event"
	"github.com/MrWong99/lingolens/internal/latency"
	"github.com/MrWong99/lingolens/internal/pipeline"
	"github.com/MrWong99/lingolens/pkg/media"
	mediamock "github.com/MrWong99/lingolens/pkg/media/mock"
	"github.com/MrWong99/lingolens/pkg/provider/ocr"
	ocrmock "github.com/MrWong99/lingolens/pkg/provider/ocr/mock"
	translatemock "github.com/MrWong99/lingolens/pkg/provider/translate/mock"
)

type pacer struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (p *pacer) sleep(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.waits = append(p.waits, d)
	p.mu.Unlock()
	return ctx.Err()
}

func newEngine(t *testing.T, src *mediamock.Source, det *ocrmock.Detector, opts ...EngineOption) (*Engine, *mediamock.Opener) {
	t.Helper()
	svc := newServices(t, det, &translatemock.Translator{})
	opener := &mediamock.Opener{Source: src}
	proc := NewProcessor(svc, latency.New(), "en", "es", WithDetectionInterval(2))
	return NewEngine(opener, proc, append([]EngineOption{WithEngineMetrics(svc.Metrics)}, opts...)...), opener
}

func collect(t *testing.T, ch <-chan event.Event) []event.Event {
	t.Helper()
	var got []event.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("timed out waiting for the engine to finish")
		}
	}
}

func kinds(events []event.Event) []event.Kind {
	out := make([]event.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func assertKinds(t *testing.T, events []event.Event, want ...event.Kind) {
	t.Helper()
	got := kinds(events)
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", got, want)
		}
	}
}

func TestEngine_StreamsInOrder(t *testing.T) {
	t.Parallel()

	src := &mediamock.Source{
		VideoInfo: media.VideoInfo{FPS: 25, TotalFrames: 3, Width: 64, Height: 32},
		Frames:    frames(3),
	}
	det := &ocrmock.Detector{Detections: []ocr.Detection{ocrmock.Rect("STOP", 0, 0, 30, 10)}}
	p := &pacer{}
	e, opener := newEngine(t, src, det, WithPacing(p.sleep))

	ch, err := e.Start(context.Background(), "/media/clip.mp4")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	events := collect(t, ch)

	// Detection runs on frames 1 and 3 with interval 2.
	assertKinds(t, events,
		event.KindVideoMetadata,
		event.KindTextDetected, event.KindFrame,
		event.KindFrame,
		event.KindTextDetected, event.KindFrame,
		event.KindProcessingComplete,
	)
	if md := events[0].Metadata; md.FPS != 25 || md.TotalFrames != 3 || md.Width != 64 {
		t.Errorf("metadata = %+v", md)
	}
	if txt := events[1].Text; txt.Original != "STOP" || txt.Translated != "[es] STOP" || txt.Box.W != 30 {
		t.Errorf("text event = %+v", txt)
	}
	idx := 0
	for _, ev := range events {
		if ev.Kind != event.KindFrame {
			continue
		}
		idx++
		if ev.Frame.Index != idx || ev.Frame.Total != 3 || len(ev.Frame.Image) == 0 {
			t.Errorf("frame event %d = index %d total %d", idx, ev.Frame.Index, ev.Frame.Total)
		}
	}

	if src.Closed() != 1 {
		t.Errorf("source closed %d times, want 1", src.Closed())
	}
	if len(opener.Refs) != 1 || opener.Refs[0] != "/media/clip.mp4" {
		t.Errorf("opened refs = %v", opener.Refs)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.waits) != 3 || p.waits[0] != 40*time.Millisecond {
		t.Errorf("pacing waits = %v, want 3 x 40ms", p.waits)
	}
	if e.State() != StateIdle {
		t.Errorf("state after run = %v, want idle", e.State())
	}
}

func TestEngine_OpenFailureIsSynchronous(t *testing.T) {
	t.Parallel()

	e, opener := newEngine(t, nil, &ocrmock.Detector{})
	opener.OpenErr = errors.New("no such file")

	ch, err := e.Start(context.Background(), "/missing.mp4")
	if !errors.Is(err, pipeline.ErrSourceOpen) {
		t.Fatalf("Start error = %v, want ErrSourceOpen", err)
	}
	if ch != nil {
		t.Error("channel returned for failed open")
	}
	if e.State() != StateIdle {
		t.Errorf("state = %v, want idle", e.State())
	}
}

func TestEngine_ReadErrorEndsWithProcessingError(t *testing.T) {
	t.Parallel()

	src := &mediamock.Source{Frames: frames(3), FailAt: 2, NextErr: errors.New("decoder crashed")}
	e, _ := newEngine(t, src, &ocrmock.Detector{}, WithPacing((&pacer{}).sleep))

	ch, err := e.Start(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	events := collect(t, ch)
	assertKinds(t, events, event.KindVideoMetadata, event.KindFrame, event.KindProcessingError)
	if events[2].Message == "" {
		t.Error("processing_error without message")
	}
	if src.Closed() != 1 {
		t.Errorf("source closed %d times, want 1", src.Closed())
	}
}

func TestEngine_StopCompletesNormally(t *testing.T) {
	t.Parallel()

	src := &mediamock.Source{Frames: frames(1), Block: true}
	e, _ := newEngine(t, src, &ocrmock.Detector{}, WithPacing(func(context.Context, time.Duration) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := e.Start(ctx, "/dev/video0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var events []event.Event
	for ev := range ch {
		events = append(events, ev)
		if ev.Kind == event.KindFrame {
			if _, err := e.Start(context.Background(), "other"); !errors.Is(err, ErrEngineBusy) {
				t.Errorf("second Start = %v, want ErrEngineBusy", err)
			}
			cancel()
		}
	}

	terminals := 0
	for _, ev := range events {
		if ev.Kind.Terminal() {
			terminals++
		}
	}
	last := events[len(events)-1]
	if terminals != 1 || last.Kind != event.KindProcessingComplete {
		t.Errorf("events = %v, want a single processing_complete at the end", kinds(events))
	}
	if src.Closed() != 1 {
		t.Errorf("source closed %d times, want 1", src.Closed())
	}
}

func TestEngine_TotalNeverBelowIndex(t *testing.T) {
	t.Parallel()

	src := &mediamock.Source{VideoInfo: media.VideoInfo{TotalFrames: 1}, Frames: frames(2)}
	e, _ := newEngine(t, src, &ocrmock.Detector{}, WithPacing((&pacer{}).sleep))

	ch, err := e.Start(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var last *event.Frame
	for _, ev := range collect(t, ch) {
		if ev.Kind == event.KindFrame {
			last = ev.Frame
		}
	}
	if last == nil || last.Index != 2 || last.Total != 2 {
		t.Errorf("last frame = %+v, want index 2 total 2", last)
	}
}

func TestEngine_OverestimatedTotalEndsAtLastIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		estimated int
		frames    int
	}{
		{"estimate too high", 5, 3},
		{"estimate exact", 3, 3},
		{"single frame", 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := &mediamock.Source{VideoInfo: media.VideoInfo{TotalFrames: tt.estimated}, Frames: frames(tt.frames)}
			e, _ := newEngine(t, src, &ocrmock.Detector{}, WithPacing((&pacer{}).sleep))

			ch, err := e.Start(context.Background(), "clip.mp4")
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			var got []*event.Frame
			for _, ev := range collect(t, ch) {
				if ev.Kind == event.KindFrame {
					got = append(got, ev.Frame)
				}
			}
			if len(got) != tt.frames {
				t.Fatalf("got %d frames, want %d", len(got), tt.frames)
			}
			last := got[len(got)-1]
			if last.Index != tt.frames || last.Total != tt.frames {
				t.Errorf("last frame = index %d total %d, want %d/%d", last.Index, last.Total, tt.frames, tt.frames)
			}
		})
	}
}

func TestFrameInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fps  float64
		want time.Duration
	}{
		{30, time.Second / 30},
		{25, 40 * time.Millisecond},
		{0, time.Second / DefaultFPS},
		{-1, time.Second / DefaultFPS},
	}
	for _, tt := range tests {
		if got := frameInterval(tt.fps); got != tt.want {
			t.Errorf("frameInterval(%v) = %v, want %v", tt.fps, got, tt.want)
		}
	}
}
