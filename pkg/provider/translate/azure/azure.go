// Package azure provides a Translator backed by the Azure AI Translator REST
// API (version 3.0).
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/lingolens/pkg/provider/translate"
)

const (
	// DefaultEndpoint is the global Azure Translator endpoint.
	DefaultEndpoint = "https://api.cognitive.microsofttranslator.com"

	apiVersion = "3.0"

	// maxErrorBody bounds how much of an error response is echoed into the
	// returned error.
	maxErrorBody = 512
)

// Compile-time assertion that Provider implements translate.Translator.
var _ translate.Translator = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithEndpoint overrides the API endpoint (custom domain or test server).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		if endpoint != "" {
			p.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

// WithRegion sets the resource region sent as Ocp-Apim-Subscription-Region.
// Required for regional and multi-service resources.
func WithRegion(region string) Option {
	return func(p *Provider) {
		p.region = region
	}
}

// WithHTTPClient replaces the default HTTP client (15 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements translate.Translator against Azure AI Translator.
type Provider struct {
	apiKey     string
	region     string
	endpoint   string
	httpClient *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("azure: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type requestItem struct {
	Text string `json:"Text"`
}

type responseItem struct {
	DetectedLanguage *struct {
		Language string  `json:"language"`
		Score    float64 `json:"score"`
	} `json:"detectedLanguage,omitempty"`
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Translate implements translate.Translator.
func (p *Provider) Translate(ctx context.Context, sourceLang, targetLang, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if targetLang == "" {
		return "", errors.New("azure: target language must not be empty")
	}

	body, err := json.Marshal([]requestItem{{Text: text}})
	if err != nil {
		return "", fmt.Errorf("azure: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.buildURL(sourceLang, targetLang), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("azure: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)
	if p.region != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", p.region)
	}
	req.Header.Set("X-ClientTraceId", uuid.NewString())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("azure: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("azure: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error.Message != "" {
			return "", fmt.Errorf("azure: HTTP %d: %d %s", resp.StatusCode, e.Error.Code, e.Error.Message)
		}
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return "", fmt.Errorf("azure: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var items []responseItem
	if err := json.Unmarshal(data, &items); err != nil {
		return "", fmt.Errorf("azure: parse JSON response: %w", err)
	}
	if len(items) == 0 || len(items[0].Translations) == 0 {
		return "", errors.New("azure: empty translation response")
	}
	return items[0].Translations[0].Text, nil
}

// buildURL constructs the /translate URL. Azure expects "zh-Hans" style
// script subtags, which is how package lang stores Chinese.
func (p *Provider) buildURL(sourceLang, targetLang string) string {
	q := url.Values{}
	q.Set("api-version", apiVersion)
	q.Set("to", targetLang)
	if sourceLang != "" {
		q.Set("from", sourceLang)
	}
	return p.endpoint + "/translate?" + q.Encode()
}
