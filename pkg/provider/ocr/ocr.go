// Package ocr defines the Detector interface for text detection backends.
//
// A Detector finds lines of text in an encoded image and reports each line
// together with the polygon that encloses it, in pixel coordinates of the
// submitted image.
//
// Implementations must be safe for concurrent use.
package ocr

import (
	"context"
	"image"
	"math"
)

// Point is a polygon vertex in image pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is one line of text found in an image.
type Detection struct {
	// Text is the recognized line.
	Text string

	// Polygon encloses the line. Backends typically return four corners,
	// but any number of vertices is allowed.
	Polygon []Point

	// Confidence is in [0, 1]; zero when the backend does not report it.
	Confidence float64
}

// Bounds returns the axis-aligned rectangle enclosing d.Polygon, using the
// minimum and maximum of the vertex coordinates. An empty polygon yields an
// empty rectangle.
func (d Detection) Bounds() image.Rectangle {
	if len(d.Polygon) == 0 {
		return image.Rectangle{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range d.Polygon {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

// Detector is the abstraction over any OCR backend.
type Detector interface {
	// DetectText returns the lines of text found in img (JPEG or PNG bytes).
	// language is a hint using the codes in package lang; empty means
	// unknown. An image without text yields an empty slice and a nil error.
	DetectText(ctx context.Context, img []byte, language string) ([]Detection, error)
}
