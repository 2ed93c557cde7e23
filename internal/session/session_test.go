package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
)

func validRequest() Request {
	return Request{Mode: ModeFile, SourceLang: "en", TargetLang: "es", Media: "/tmp/movie.mp4"}
}

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"valid file", validRequest(), false},
		{"valid live auto source", Request{Mode: ModeLive, TargetLang: "ja"}, false},
		{"file without media", Request{Mode: ModeFile, SourceLang: "en", TargetLang: "es"}, true},
		{"unknown mode", Request{Mode: "batch", SourceLang: "en", TargetLang: "es"}, true},
		{"unsupported target", Request{Mode: ModeLive, SourceLang: "en", TargetLang: "tlh"}, true},
		{"missing target", Request{Mode: ModeLive, SourceLang: "en"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	s, err := New(validRequest(), base)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if s.ID == "" || s.Tracker == nil || s.Ledger == nil {
		t.Fatalf("session not fully initialised: %+v", s)
	}
	if s.Status() != StatusIdle {
		t.Errorf("status = %v, want idle", s.Status())
	}
	if _, err := os.Stat(s.Ledger.Dir()); err != nil {
		t.Errorf("ledger dir missing: %v", err)
	}

	if _, err := New(Request{Mode: ModeFile}, base); err == nil {
		t.Error("expected validation error")
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	s, err := New(validRequest(), t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	ctx, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Status() != StatusRunning {
		t.Fatalf("status = %v, want running", s.Status())
	}
	if _, err := s.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Start err = %v, want ErrInvalidTransition", err)
	}

	if !s.Stop() {
		t.Fatal("first Stop should report true")
	}
	if s.Stop() {
		t.Fatal("second Stop should report false")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("Stop did not cancel the session context")
	}
	if s.Status() != StatusStopping {
		t.Fatalf("status = %v, want stopping", s.Status())
	}

	s.Finish()
	if s.Status() != StatusStopped {
		t.Fatalf("status = %v, want stopped", s.Status())
	}

	s.Fail(errors.New("late"))
	if s.Status() != StatusStopped || s.Err() != nil {
		t.Errorf("Fail after terminal must be ignored: %v %v", s.Status(), s.Err())
	}
}

func TestFailKeepsFirstError(t *testing.T) {
	t.Parallel()

	s, _ := New(validRequest(), t.TempDir())
	defer s.Close()
	_, _ = s.Start(context.Background())

	first := errors.New("source gone")
	s.Fail(first)
	s.Fail(errors.New("second"))
	s.Finish()

	if s.Status() != StatusFailed || !errors.Is(s.Err(), first) {
		t.Errorf("status=%v err=%v", s.Status(), s.Err())
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusIdle, StatusRunning, true},
		{StatusRunning, StatusStopping, true},
		{StatusStopping, StatusStopped, true},
		{StatusRunning, StatusFailed, true},
		{StatusStopped, StatusRunning, false},
		{StatusFailed, StatusStopped, false},
		{StatusStopping, StatusRunning, false},
	}
	for _, tt := range tests {
		s := &Session{status: tt.from}
		err := s.Transition(tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("%v -> %v: err = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
		}
	}
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	want := map[Status]string{
		StatusIdle: "idle", StatusRunning: "running", StatusStopping: "stopping",
		StatusStopped: "stopped", StatusFailed: "failed", Status(42): "unknown",
	}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), w)
		}
	}
}

func TestMarkFinalOnce(t *testing.T) {
	t.Parallel()

	s, _ := New(validRequest(), t.TempDir())
	defer s.Close()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.MarkFinal() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("MarkFinal won %d times, want 1", wins.Load())
	}
}

func TestCloseSweepsLedger(t *testing.T) {
	t.Parallel()

	s, _ := New(validRequest(), t.TempDir())
	p, err := s.Ledger.Write("chunk-*.wav", []byte("data"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Errorf("artifact survived Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
