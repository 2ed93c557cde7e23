package app

import (
	"context"
	"errors"
	"image/color"
	"os"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	archivemock "github.com/MrWong99/lingolens/internal/archive/mock"
	"github.com/MrWong99/lingolens/internal/config"
	"github.com/MrWong99/lingolens/internal/event"
	"github.com/MrWong99/lingolens/internal/observe"
	"github.com/MrWong99/lingolens/internal/pipeline"
	"github.com/MrWong99/lingolens/internal/session"
	"github.com/MrWong99/lingolens/pkg/media"
	mediamock "github.com/MrWong99/lingolens/pkg/media/mock"
	ocrmock "github.com/MrWong99/lingolens/pkg/provider/ocr/mock"
	sttmock "github.com/MrWong99/lingolens/pkg/provider/stt/mock"
	translatemock "github.com/MrWong99/lingolens/pkg/provider/translate/mock"
)

// testServices returns pipeline services backed by mocks. The transcoder
// reports no duration, so file sessions run the full-track pass only.
func testServices(t *testing.T) *pipeline.Services {
	t.Helper()
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return &pipeline.Services{
		Recognizer: &sttmock.Recognizer{Text: "hello world"},
		Translator: &translatemock.Translator{},
		Detector:   &ocrmock.Detector{},
		Transcoder: &mediamock.Transcoder{Output: []byte("RIFF....WAVE")},
		Metrics:    metrics,
	}
}

func testPipeline(t *testing.T) config.PipelineConfig {
	t.Helper()
	cfg := &config.Config{}
	cfg.Pipeline.TempDir = t.TempDir()
	config.ApplyDefaults(cfg)
	return cfg.Pipeline
}

func fastSource(frames int, block bool) *mediamock.Source {
	return &mediamock.Source{
		VideoInfo: media.VideoInfo{FPS: 1000, TotalFrames: frames, Width: 64, Height: 32},
		Frames:    mediamock.SolidFrames(frames, 64, 32, color.RGBA{R: 200, G: 200, B: 200, A: 255}),
		Block:     block,
	}
}

type managerFixture struct {
	mgr     *SessionManager
	opener  *mediamock.Opener
	archive *archivemock.Store
	tempDir string
}

func newManagerFixture(t *testing.T, src *mediamock.Source) *managerFixture {
	t.Helper()
	p := testPipeline(t)
	f := &managerFixture{
		opener:  &mediamock.Opener{Source: src},
		archive: &archivemock.Store{},
		tempDir: p.TempDir,
	}
	f.mgr = NewSessionManager(context.Background(), SessionManagerConfig{
		Services: testServices(t),
		Opener:   f.opener,
		Archive:  f.archive,
		Pipeline: p,
		Observer: config.ObserverConfig{NoveltyThreshold: config.DefaultNoveltyThreshold},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.mgr.Shutdown(ctx)
	})
	return f
}

func fileRequest() session.Request {
	return session.Request{SourceLang: "en", TargetLang: "es", Media: "/media/talk.mp4"}
}

// collect reads ch until it is closed. It may run on a helper goroutine, so a
// timeout is reported with Errorf.
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
			t.Errorf("timed out after %d events", len(got))
			return got
		}
	}
}

func countKind(events []event.Event, k event.Kind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

func assertSingleTerminal(t *testing.T, events []event.Event, want event.Kind) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	for i, ev := range events[:len(events)-1] {
		if ev.Kind.Terminal() {
			t.Fatalf("event %d is terminal %q before the end", i, ev.Kind)
		}
	}
	if last := events[len(events)-1]; last.Kind != want {
		t.Fatalf("last event = %q, want %q", last.Kind, want)
	}
}

func assertTempEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir holds %d entries after the session, want 0", len(entries))
	}
}

// ── File sessions ────────────────────────────────────────────────────────────

func TestSessionManager_FileSessionRunsToCompletion(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, fastSource(3, false))
	id, ch, err := f.mgr.StartFile(context.Background(), fileRequest())
	if err != nil {
		t.Fatalf("StartFile: %v", err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}

	events := collect(t, ch)
	assertSingleTerminal(t, events, event.KindProcessingComplete)

	if got := countKind(events, event.KindVideoMetadata); got != 1 {
		t.Errorf("video metadata events = %d, want 1", got)
	}
	if got := countKind(events, event.KindFrame); got != 3 {
		t.Errorf("frame events = %d, want 3", got)
	}

	var finals []*event.Transcript
	for _, ev := range events {
		if ev.Kind == event.KindTranscript && ev.Transcript.IsFinal {
			finals = append(finals, ev.Transcript)
		}
	}
	if len(finals) != 1 {
		t.Fatalf("final transcripts = %d, want 1", len(finals))
	}
	if finals[0].Original != "hello world" || finals[0].Translated != "[es] hello world" {
		t.Errorf("final = %+v", finals[0])
	}

	if n := f.mgr.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount = %d, want 0", n)
	}
	assertTempEmpty(t, f.tempDir)

	saved := f.archive.Saved()
	if len(saved) != 1 {
		t.Fatalf("archived records = %d, want 1", len(saved))
	}
	if saved[0].SessionID != id || saved[0].Translated != "[es] hello world" {
		t.Errorf("archived record = %+v", saved[0])
	}

	if _, err := f.mgr.Latency(id); err != nil {
		t.Errorf("Latency after finish: %v", err)
	}
}

func TestSessionManager_FileOpenFailure(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, nil)
	f.opener.OpenErr = errors.New("no such file")

	id, ch, err := f.mgr.StartFile(context.Background(), fileRequest())
	if !errors.Is(err, pipeline.ErrSourceOpen) {
		t.Fatalf("StartFile error = %v, want ErrSourceOpen", err)
	}
	if id == "" {
		t.Error("failed start should still report the session id")
	}
	if ch != nil {
		t.Error("channel returned for failed open")
	}
	if n := f.mgr.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount = %d, want 0", n)
	}
	assertTempEmpty(t, f.tempDir)
}

func TestSessionManager_InvalidRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  session.Request
	}{
		{name: "missing media", req: session.Request{SourceLang: "en", TargetLang: "es"}},
		{name: "unknown source", req: session.Request{SourceLang: "xx", TargetLang: "es", Media: "/m.mp4"}},
		{name: "unknown target", req: session.Request{SourceLang: "en", TargetLang: "xx", Media: "/m.mp4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newManagerFixture(t, fastSource(1, false))
			if _, _, err := f.mgr.StartFile(context.Background(), tt.req); err == nil {
				t.Fatal("expected error")
			}
			if len(f.opener.Refs) != 0 {
				t.Errorf("opener called %d times for an invalid request", len(f.opener.Refs))
			}
		})
	}
}

func TestSessionManager_TargetDefaultsFromConfig(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, fastSource(1, false))
	req := fileRequest()
	req.TargetLang = ""

	id, ch, err := f.mgr.StartFile(context.Background(), req)
	if err != nil {
		t.Fatalf("StartFile: %v", err)
	}
	sess, ok := f.mgr.Get(id)
	if ok && sess.TargetLang != config.DefaultTargetLanguage {
		t.Errorf("TargetLang = %q, want %q", sess.TargetLang, config.DefaultTargetLanguage)
	}
	collect(t, ch)
}

func TestSessionManager_StopFileSession(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, fastSource(1, true))
	id, ch, err := f.mgr.StartFile(context.Background(), fileRequest())
	if err != nil {
		t.Fatalf("StartFile: %v", err)
	}

	var (
		wg     sync.WaitGroup
		events []event.Event
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		events = collect(t, ch)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.mgr.Stop(ctx, id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	wg.Wait()

	assertSingleTerminal(t, events, event.KindProcessingComplete)
	if n := f.mgr.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount = %d, want 0", n)
	}
	if got := f.opener.Source.(*mediamock.Source).Closed(); got != 1 {
		t.Errorf("source closed %d times, want 1", got)
	}
	assertTempEmpty(t, f.tempDir)

	if err := f.mgr.Stop(ctx, id); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("second Stop = %v, want ErrNotFound", err)
	}
}

func TestSessionManager_UnknownSession(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, nil)
	if err := f.mgr.Stop(context.Background(), "nope"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Stop = %v, want ErrNotFound", err)
	}
	if _, err := f.mgr.Latency("nope"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Latency = %v, want ErrNotFound", err)
	}
}

// ── Live sessions ────────────────────────────────────────────────────────────

func TestSessionManager_LiveStartStop(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, nil)
	id, live, err := f.mgr.StartLive(context.Background(), session.Request{SourceLang: "en", TargetLang: "fr"})
	if err != nil {
		t.Fatalf("StartLive: %v", err)
	}
	if live == nil {
		t.Fatal("nil live session")
	}
	if n := f.mgr.ActiveCount(); n != 1 {
		t.Fatalf("ActiveCount = %d, want 1", n)
	}
	sess, ok := f.mgr.Get(id)
	if !ok || sess.Mode != session.ModeLive {
		t.Fatalf("Get(%s) = %v, %v", id, sess, ok)
	}

	if err := f.mgr.Stop(context.Background(), id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := f.mgr.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount = %d, want 0", n)
	}
	if _, err := f.mgr.Latency(id); err != nil {
		t.Errorf("Latency after stop: %v", err)
	}
	assertTempEmpty(t, f.tempDir)
}

// ── Shutdown / config ────────────────────────────────────────────────────────

func TestSessionManager_Shutdown(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, fastSource(1, true))
	_, ch, err := f.mgr.StartFile(context.Background(), fileRequest())
	if err != nil {
		t.Fatalf("StartFile: %v", err)
	}
	if _, _, err := f.mgr.StartLive(context.Background(), session.Request{SourceLang: "", TargetLang: "de"}); err != nil {
		t.Fatalf("StartLive: %v", err)
	}

	done := make(chan []event.Event, 1)
	go func() { done <- collect(t, ch) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	assertSingleTerminal(t, <-done, event.KindProcessingComplete)

	if n := f.mgr.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount = %d, want 0", n)
	}
	if _, _, err := f.mgr.StartLive(context.Background(), session.Request{TargetLang: "de"}); err == nil {
		t.Error("StartLive after Shutdown succeeded")
	}
	assertTempEmpty(t, f.tempDir)
}

func TestSessionManager_SetPipeline(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, nil)
	p := testPipeline(t)
	p.TargetLanguage = "ja"
	f.mgr.SetPipeline(p)

	_, live, err := f.mgr.StartLive(context.Background(), session.Request{SourceLang: "en"})
	if err != nil {
		t.Fatalf("StartLive: %v", err)
	}
	type sessioner interface{ Session() *session.Session }
	if got := live.(sessioner).Session().TargetLang; got != "ja" {
		t.Errorf("TargetLang = %q, want ja", got)
	}
}

func TestSessionManager_FinishedReportsAreCapped(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, nil)
	var first string
	for i := range maxFinished + 1 {
		id, _, err := f.mgr.StartLive(context.Background(), session.Request{SourceLang: "en", TargetLang: "es"})
		if err != nil {
			t.Fatalf("StartLive %d: %v", i, err)
		}
		if i == 0 {
			first = id
		}
		if err := f.mgr.Stop(context.Background(), id); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
	}
	if _, err := f.mgr.Latency(first); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Latency(oldest) = %v, want ErrNotFound", err)
	}
}
