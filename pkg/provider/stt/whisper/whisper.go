// Package whisper provides local whisper.cpp-backed STT recognizers.
//
// [Provider] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference. [NativeProvider] runs inference in-process through
// the whisper.cpp CGO bindings. Both accept 16 kHz mono 16-bit WAV and skip
// chunks whose energy is below a silence threshold without running
// inference, which keeps empty windows of a media file cheap.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithModel("small"))
//	text, err := p.Recognize(ctx, wav, "en")
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/lingolens/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the 16-bit PCM energy below which a chunk counts
	// as silence. Full scale is 32767.
	defaultRMSThreshold = 300.0

	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// maxResponseBytes bounds how much of a server reply is read.
	maxResponseBytes = 1 << 20
)

var _ stt.Recognizer = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use (e.g. "base.en",
// "small"). Empty leaves the server's startup model in place.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when Recognize gets none.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThreshold sets the RMS level below which a chunk is not sent to
// the server. Zero disables the check.
func WithSilenceThreshold(rms float64) Option {
	return func(p *Provider) { p.silenceRMS = rms }
}

// WithPrompt seeds every request with text the decoder should expect, such
// as names or product terms that recur in the media.
func WithPrompt(prompt string) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// WithTemperature sets the sampling temperature. Zero, the default, decodes
// greedily.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// WithHTTPClient replaces the default client, which times out after 30 s.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider recognizes speech through a whisper.cpp HTTP server. It holds no
// per-call state and is safe for concurrent use.
type Provider struct {
	serverURL   string
	model       string
	language    string
	prompt      string
	temperature float64
	silenceRMS  float64
	httpClient  *http.Client
}

// New returns a Provider for the server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		silenceRMS: defaultRMSThreshold,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Recognize posts wav to /inference and returns the trimmed transcript.
// Silent chunks return "" without a request.
func (p *Provider) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	if isSilent(wav, p.silenceRMS) {
		return "", nil
	}
	if language == "" {
		language = p.language
	}

	body, contentType, err := p.form(wav, language)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode != http.StatusOK {
		if dec.Decode(&result) == nil && result.Error != "" {
			return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, result.Error)
		}
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	if err := dec.Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("whisper: %s", result.Error)
	}
	return strings.TrimSpace(result.Text), nil
}

// form encodes the multipart body whisper-server expects.
func (p *Provider) form(wav []byte, language string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", err
	}

	fields := []struct{ name, value string }{
		{"response_format", "json"},
		{"language", language},
		{"model", p.model},
		{"prompt", p.prompt},
	}
	if p.temperature > 0 {
		fields = append(fields, struct{ name, value string }{"temperature", strconv.FormatFloat(p.temperature, 'f', -1, 64)})
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("field %s: %w", f.name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
