package ocr

import (
	"image"
	"testing"
)

func TestDetectionBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		poly []Point
		want image.Rectangle
	}{
		{
			name: "axis aligned quad",
			poly: []Point{{10, 20}, {110, 20}, {110, 50}, {10, 50}},
			want: image.Rect(10, 20, 110, 50),
		},
		{
			name: "rotated quad",
			poly: []Point{{15, 10}, {100, 25}, {95, 60}, {10, 45}},
			want: image.Rect(10, 10, 100, 60),
		},
		{
			name: "fractional coordinates widen outward",
			poly: []Point{{1.2, 2.7}, {9.1, 8.5}},
			want: image.Rect(1, 2, 10, 9),
		},
		{
			name: "empty",
			poly: nil,
			want: image.Rectangle{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Detection{Polygon: tt.poly}.Bounds()
			if got != tt.want {
				t.Errorf("Bounds() = %v, want %v", got, tt.want)
			}
		})
	}
}
