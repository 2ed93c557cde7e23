// Package mock provides a test double for the ocr.Detector interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lingolens/pkg/provider/ocr"
)

// Ensure Detector implements ocr.Detector at compile time.
var _ ocr.Detector = (*Detector)(nil)

// DetectCall records a single invocation of Detector.DetectText.
type DetectCall struct {
	// ImageSize is len(img) of the submitted image.
	ImageSize int
	Language  string
}

// Detector is a mock implementation of ocr.Detector.
type Detector struct {
	mu sync.Mutex

	// Results are returned by successive calls. When exhausted, Detections
	// is used.
	Results [][]ocr.Detection

	// Detections is returned once Results is exhausted.
	Detections []ocr.Detection

	// Err, if non-nil, is returned as the error from DetectText.
	Err error

	// ErrAt, if non-empty, maps a 1-based call number to an error for that
	// call only.
	ErrAt map[int]error

	// Calls records every call to DetectText.
	Calls []DetectCall
}

// DetectText records the call and returns the next configured result.
func (d *Detector) DetectText(_ context.Context, img []byte, language string) ([]ocr.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, DetectCall{ImageSize: len(img), Language: language})
	if err, ok := d.ErrAt[len(d.Calls)]; ok {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}
	if len(d.Results) > 0 {
		r := d.Results[0]
		d.Results = d.Results[1:]
		return r, nil
	}
	return d.Detections, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (d *Detector) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

// Rect is a convenience constructor for an axis-aligned detection polygon.
func Rect(text string, x, y, w, h float64) ocr.Detection {
	return ocr.Detection{
		Text: text,
		Polygon: []ocr.Point{
			{X: x, Y: y}, {X: x + w, Y: y}, {X: x + w, Y: y + h}, {X: x, Y: y + h},
		},
		Confidence: 1,
	}
}
