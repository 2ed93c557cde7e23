package whisper

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// ---- helpers ----------------------------------------------------------------

// inferenceRequest captures the multipart fields of one /inference call.
type inferenceRequest struct {
	language    string
	model       string
	prompt      string
	temperature string
	format      string
	audio       []byte
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText and forwards the parsed request on reqs.
func newMockServer(t *testing.T, responseText string, reqs chan<- inferenceRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		audio, _ := io.ReadAll(f)
		if reqs != nil {
			reqs <- inferenceRequest{
				language:    r.FormValue("language"),
				model:       r.FormValue("model"),
				prompt:      r.FormValue("prompt"),
				temperature: r.FormValue("temperature"),
				format:      r.FormValue("response_format"),
				audio:       audio,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// speechWAV generates a 440 Hz sine wave whose RMS is well above the silence
// threshold, wrapped in a WAV container.
func speechWAV(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return encodeWAV(buf, 16000, 1)
}

func silenceWAV(samples int) []byte {
	return encodeWAV(make([]byte, samples*2), 16000, 1)
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	t.Parallel()

	p, err := New("http://localhost:8080/", WithModel("small"), WithLanguage("de"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.serverURL != "http://localhost:8080" {
		t.Errorf("serverURL = %q", p.serverURL)
	}
}

// ---- recognition ------------------------------------------------------------

func TestRecognize_SendsAudioAndHints(t *testing.T) {
	t.Parallel()

	reqs := make(chan inferenceRequest, 1)
	srv := newMockServer(t, "  hola mundo \n", reqs)

	p, _ := New(srv.URL, WithModel("small"))
	wav := speechWAV(1600)

	text, err := p.Recognize(context.Background(), wav, "es")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if text != "hola mundo" {
		t.Errorf("text = %q, want trimmed %q", text, "hola mundo")
	}

	got := <-reqs
	if got.language != "es" || got.model != "small" {
		t.Errorf("hints = (%q, %q)", got.language, got.model)
	}
	if len(got.audio) != len(wav) {
		t.Errorf("audio = %d bytes, want %d", len(got.audio), len(wav))
	}
}

func TestRecognize_DefaultLanguage(t *testing.T) {
	t.Parallel()

	reqs := make(chan inferenceRequest, 1)
	srv := newMockServer(t, "hi", reqs)

	p, _ := New(srv.URL, WithLanguage("fr"))
	if _, err := p.Recognize(context.Background(), speechWAV(160), ""); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got := <-reqs; got.language != "fr" {
		t.Errorf("language = %q, want fr", got.language)
	}
}

func TestRecognize_SilenceSkipsServer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ghost"})
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	text, err := p.Recognize(context.Background(), silenceWAV(1600), "en")
	if err != nil || text != "" {
		t.Fatalf("Recognize = (%q, %v), want empty", text, err)
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times for silence", calls.Load())
	}

	// With the threshold disabled the request goes through.
	p, _ = New(srv.URL, WithSilenceThreshold(0))
	if text, _ := p.Recognize(context.Background(), silenceWAV(1600), "en"); text != "ghost" {
		t.Errorf("text = %q, want ghost", text)
	}
}

func TestRecognize_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Recognize(context.Background(), speechWAV(160), "en"); err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}

func TestRecognize_OptionalHints(t *testing.T) {
	t.Parallel()

	reqs := make(chan inferenceRequest, 2)
	srv := newMockServer(t, "ok", reqs)

	plain, _ := New(srv.URL)
	if _, err := plain.Recognize(context.Background(), speechWAV(160), "en"); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	got := <-reqs
	if got.prompt != "" || got.temperature != "" || got.model != "" {
		t.Errorf("unset hints were sent: %+v", got)
	}
	if got.format != "json" {
		t.Errorf("response_format = %q, want json", got.format)
	}

	hinted, _ := New(srv.URL, WithPrompt("Lingolens, Kubernetes"), WithTemperature(0.2))
	if _, err := hinted.Recognize(context.Background(), speechWAV(160), "en"); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	got = <-reqs
	if got.prompt != "Lingolens, Kubernetes" || got.temperature != "0.2" {
		t.Errorf("hints = (%q, %q)", got.prompt, got.temperature)
	}
}

func TestRecognize_ServerErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"error body on 400", http.StatusBadRequest, `{"error":"failed to read WAV file"}`, "failed to read WAV file"},
		{"error body on 200", http.StatusOK, `{"error":"model not loaded"}`, "model not loaded"},
		{"plain text 503", http.StatusServiceUnavailable, "busy", "HTTP 503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			p, _ := New(srv.URL)
			_, err := p.Recognize(context.Background(), speechWAV(160), "en")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestRecognize_InvalidJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Recognize(context.Background(), speechWAV(160), "en"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRecognize_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, "late", nil)
	p, _ := New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Recognize(ctx, speechWAV(160), "en"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
