// Package httpocr provides an OCR Detector that talks to a self-hosted OCR
// server (EasyOCR, PaddleOCR, or docTR behind a thin HTTP wrapper).
//
// The server must accept POST {baseURL}/ocr as multipart/form-data with an
// "image" file field and an optional "language" field, and answer with:
//
//	{"results": [{"text": "EXIT", "polygon": [[x,y],[x,y],[x,y],[x,y]], "confidence": 0.97}]}
package httpocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MrWong99/lingolens/pkg/provider/ocr"
)

// Compile-time assertion that Provider implements ocr.Detector.
var _ ocr.Detector = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithMinConfidence drops detections below the given confidence. Detections
// without a confidence (reported as 0) are always kept.
func WithMinConfidence(c float64) Option {
	return func(p *Provider) {
		p.minConfidence = c
	}
}

// WithHTTPClient replaces the default HTTP client (20 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements ocr.Detector against an HTTP OCR server.
type Provider struct {
	baseURL       string
	apiKey        string
	minConfidence float64
	httpClient    *http.Client
}

// New creates a Provider for the OCR server at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("httpocr: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type response struct {
	Results []struct {
		Text       string       `json:"text"`
		Polygon    [][2]float64 `json:"polygon"`
		Confidence float64      `json:"confidence"`
	} `json:"results"`
	Error string `json:"error,omitempty"`
}

// DetectText implements ocr.Detector.
func (p *Provider) DetectText(ctx context.Context, img []byte, language string) ([]ocr.Detection, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="frame"`)
	h.Set("Content-Type", http.DetectContentType(img))
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("httpocr: create form file: %w", err)
	}
	if _, err := fw.Write(img); err != nil {
		return nil, fmt.Errorf("httpocr: write image: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return nil, fmt.Errorf("httpocr: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("httpocr: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/ocr", &body)
	if err != nil {
		return nil, fmt.Errorf("httpocr: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpocr: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpocr: read response body: %w", err)
	}

	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("httpocr: server returned HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("httpocr: parse JSON response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if r.Error != "" {
			return nil, fmt.Errorf("httpocr: server returned HTTP %d: %s", resp.StatusCode, r.Error)
		}
		return nil, fmt.Errorf("httpocr: server returned HTTP %d", resp.StatusCode)
	}

	out := make([]ocr.Detection, 0, len(r.Results))
	for _, res := range r.Results {
		text := strings.TrimSpace(res.Text)
		if text == "" || len(res.Polygon) == 0 {
			continue
		}
		if res.Confidence > 0 && res.Confidence < p.minConfidence {
			continue
		}
		poly := make([]ocr.Point, len(res.Polygon))
		for i, v := range res.Polygon {
			poly[i] = ocr.Point{X: v[0], Y: v[1]}
		}
		out = append(out, ocr.Detection{Text: text, Polygon: poly, Confidence: res.Confidence})
	}
	return out, nil
}
