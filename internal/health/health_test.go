package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := New(WithSessionCount(func() int { return 3 }))
	rec, body := serve(t, h, "/healthz")

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["active_sessions"] != float64(3) {
		t.Errorf("active_sessions = %v, want 3", body["active_sessions"])
	}
	if _, ok := body["uptime"].(string); !ok {
		t.Errorf("uptime missing: %v", body)
	}
}

func TestHealthz_IgnoresDrainAndChecks(t *testing.T) {
	t.Parallel()

	h := New(WithChecker("broken", func(context.Context) error { return errors.New("down") }))
	h.Drain()
	if rec, _ := serve(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("disk full") }

	tests := []struct {
		name       string
		opts       []Option
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			opts:       []Option{WithChecker("temp_dir", ok), WithChecker("archive", ok)},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"temp_dir": "ok", "archive": "ok"},
		},
		{
			name:       "one fails",
			opts:       []Option{WithChecker("temp_dir", fail), WithChecker("archive", ok)},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"temp_dir": "fail: disk full", "archive": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, body := serve(t, New(tt.opts...), "/readyz")
			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
			checks, _ := body["checks"].(map[string]any)
			if len(checks) != len(tt.wantChecks) {
				t.Fatalf("checks = %v, want %v", checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if checks[name] != want {
					t.Errorf("checks[%s] = %v, want %q", name, checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_Draining(t *testing.T) {
	t.Parallel()

	called := false
	h := New(WithChecker("temp_dir", func(context.Context) error {
		called = true
		return nil
	}))
	h.Drain()

	rec, body := serve(t, h, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body["status"] != "draining" {
		t.Errorf("status = %v, want draining", body["status"])
	}
	if called {
		t.Error("checks ran while draining")
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	// Both checks block until the other has started; sequential execution
	// would hit the check timeout instead.
	started := make(chan struct{}, 2)
	check := func(ctx context.Context) error {
		started <- struct{}{}
		deadline := time.After(2 * time.Second)
		for len(started) < 2 {
			select {
			case <-deadline:
				return errors.New("peer check never started")
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
		return nil
	}
	h := New(WithChecker("a", check), WithChecker("b", check))

	if rec, body := serve(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %v", rec.Code, body)
	}
}
