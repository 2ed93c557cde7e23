// Package openai provides an STT recognizer backed by the OpenAI audio
// transcription API (whisper-1 and the gpt-4o transcribe models).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/lingolens/pkg/provider/stt"
)

// DefaultModel is used when no model is configured.
const DefaultModel = string(oai.AudioModelWhisper1)

var _ stt.Recognizer = (*Provider)(nil)

// Provider transcribes WAV audio through the OpenAI API.
type Provider struct {
	client      oai.Client
	model       oai.AudioModel
	prompt      string
	temperature float64
	hasTemp     bool
}

// settings collects the client-level options before the client is built.
type settings struct {
	reqOpts []option.RequestOption
	p       *Provider
}

// Option configures a [Provider].
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithBaseURL(url)) }
}

// WithOrganization sends the organization header on every request.
func WithOrganization(org string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.reqOpts = append(s.reqOpts, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// WithMaxRetries sets how often the client retries rate limits and server
// errors. The client default is 2.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithMaxRetries(n)) }
}

// WithPrompt biases recognition toward the given vocabulary or style.
func WithPrompt(prompt string) Option {
	return func(s *settings) { s.p.prompt = prompt }
}

// WithTemperature sets the sampling temperature in [0, 1].
func WithTemperature(t float64) Option {
	return func(s *settings) { s.p.temperature, s.p.hasTemp = t, true }
}

// New returns a recognizer using model, or [DefaultModel] when model is empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	p := &Provider{model: oai.AudioModel(model)}
	s := &settings{reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)}, p: p}
	for _, o := range opts {
		o(s)
	}
	p.client = oai.NewClient(s.reqOpts...)
	return p, nil
}

// Recognize uploads wav and returns the trimmed transcript. An empty
// language lets the service detect it.
func (p *Provider) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:          p.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if language != "" {
		params.Language = oai.String(language)
	}
	if p.prompt != "" {
		params.Prompt = oai.String(p.prompt)
	}
	if p.hasTemp {
		params.Temperature = oai.Float(p.temperature)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai stt: transcribe: status %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// ModelID returns the configured model name.
func (p *Provider) ModelID() string {
	return string(p.model)
}
