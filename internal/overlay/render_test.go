package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"slices"
	"testing"

	mediamock "github.com/MrWong99/lingolens/pkg/media/mock"
)

func TestWrapText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"empty", "   ", 100, nil},
		{"fits", "hola mundo", 200, []string{"hola mundo"}},
		// Face7x13 advances 7px per glyph: "hola mundo" is 70px wide.
		{"wraps", "hola mundo", 40, []string{"hola", "mundo"}},
		{"long word keeps own line", "supercalifragilistic es", 20, []string{"supercalifragilistic", "es"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := wrapText(tt.text, tt.width); !slices.Equal(got, tt.want) {
				t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
			}
		})
	}
}

func TestRenderRegions_DrawsOnCopy(t *testing.T) {
	t.Parallel()

	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	src := mediamock.SolidFrames(1, 64, 32, white)[0].Image
	before := slices.Clone(src.Pix)

	out := renderRegions(src, []Region{{Rect: image.Rect(0, 0, 40, 16), Translated: "ALTO"}})

	if !bytes.Equal(src.Pix, before) {
		t.Fatal("source frame was mutated")
	}
	if got := out.RGBAAt(39, 15); got == white {
		t.Errorf("pixel inside region still white: %v", got)
	}
	if got := out.RGBAAt(63, 31); got != white {
		t.Errorf("pixel outside region changed: %v", got)
	}
}

func TestRenderRegions_SkipsBlankTranslation(t *testing.T) {
	t.Parallel()

	src := mediamock.SolidFrames(1, 16, 16, color.RGBA{G: 200, A: 255})[0].Image
	out := renderRegions(src, []Region{{Rect: image.Rect(0, 0, 16, 16), Translated: " "}})
	if !bytes.Equal(out.Pix, src.Pix) {
		t.Error("blank translation altered the frame")
	}
}

func TestEncodeJPEG(t *testing.T) {
	t.Parallel()

	src := mediamock.SolidFrames(1, 8, 8, color.RGBA{B: 255, A: 255})[0].Image
	data, err := encodeJPEG(src, 90)
	if err != nil {
		t.Fatalf("encodeJPEG: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds() != src.Bounds() {
		t.Errorf("bounds = %v, want %v", img.Bounds(), src.Bounds())
	}
}
