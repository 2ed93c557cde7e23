// Package deepgram recognizes speech with the Deepgram streaming WebSocket
// API. Each chunk opens its own connection, which Deepgram closes once the
// final results for the chunk have been sent.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/lingolens/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"
)

var _ stt.Recognizer = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when Recognize gets none. An empty
// value asks Deepgram to detect the spoken language.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithKeyterms boosts recognition of terms that recur in the media, such as
// speaker or product names.
func WithKeyterms(terms ...string) Option {
	return func(p *Provider) { p.keyterms = append(p.keyterms, terms...) }
}

// WithMinConfidence drops final results whose best alternative scores below
// c. Zero keeps everything.
func WithMinConfidence(c float64) Option {
	return func(p *Provider) { p.minConfidence = c }
}

// WithEndpoint overrides the WebSocket endpoint.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider recognizes speech through the Deepgram streaming API, one
// connection per chunk.
type Provider struct {
	apiKey        string
	model         string
	language      string
	keyterms      []string
	minConfidence float64
	endpoint      string
}

// New returns a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Recognize streams wav, asks Deepgram to flush, and joins the final
// transcripts that arrive before the server closes the stream.
func (p *Provider) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	wsURL, err := p.buildURL(language)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageBinary, wav); err != nil {
		return "", fmt.Errorf("deepgram: send audio: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return "", fmt.Errorf("deepgram: send close: %w", err)
	}

	var sb strings.Builder
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			switch {
			case errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure:
				return sb.String(), nil
			case errors.As(err, &ce):
				// Rejected audio arrives as a close frame, e.g. 1011 "DATA-0000".
				return "", fmt.Errorf("deepgram: stream closed with %d: %s", ce.Code, ce.Reason)
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}
		ev, err := parseEvent(msg)
		if err != nil {
			return "", err
		}
		if !ev.final || ev.text == "" || ev.confidence < p.minConfidence {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(ev.text)
	}
}

// buildURL adds the query parameters for one request. The audio is a WAV
// container, so Deepgram reads encoding and sample rate from its header.
func (p *Provider) buildURL(language string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	if language == "" {
		language = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	if language == "" {
		q.Set("detect_language", "true")
	} else {
		q.Set("language", language)
	}
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	for _, term := range p.keyterms {
		q.Add("keyterm", term)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// message covers the server events Recognize cares about.
type message struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	Description string `json:"description"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type event struct {
	final      bool
	text       string
	confidence float64
}

// parseEvent reads one server message. Error events become errors;
// metadata, interim results, and unparseable frames yield a zero event.
func parseEvent(data []byte) (event, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return event{}, nil
	}
	switch m.Type {
	case "Error":
		return event{}, fmt.Errorf("deepgram: %s", m.Description)
	case "Results":
		if !m.IsFinal || len(m.Channel.Alternatives) == 0 {
			return event{}, nil
		}
		best := m.Channel.Alternatives[0]
		return event{final: true, text: strings.TrimSpace(best.Transcript), confidence: best.Confidence}, nil
	}
	return event{}, nil
}
