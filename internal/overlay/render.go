package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const textPadding = 2

var (
	backdrop  = image.NewUniform(color.RGBA{A: 0xb4})
	textColor = image.White
	face      = basicfont.Face7x13
)

// renderRegions copies src and draws every region's translated text onto the
// copy over a semi-opaque backdrop. src is left untouched.
func renderRegions(src *image.RGBA, regions []Region) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)
	for _, r := range regions {
		drawLabel(dst, r.Rect, r.Translated)
	}
	return dst
}

// drawLabel wraps text to the width of rect and draws it from the top-left
// corner. The backdrop grows downward when the wrapped text is taller than
// rect, clipped to the image.
func drawLabel(dst *image.RGBA, rect image.Rectangle, text string) {
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() || strings.TrimSpace(text) == "" {
		return
	}

	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	lines := wrapText(text, rect.Dx()-2*textPadding)

	bg := rect
	if need := len(lines)*lineHeight + 2*textPadding; bg.Dy() < need {
		bg.Max.Y = bg.Min.Y + need
	}
	bg = bg.Intersect(dst.Bounds())
	draw.Draw(dst, bg, backdrop, image.Point{}, draw.Over)

	d := &font.Drawer{Dst: dst, Src: textColor, Face: face}
	baseline := bg.Min.Y + textPadding + metrics.Ascent.Ceil()
	for _, line := range lines {
		if baseline > bg.Max.Y {
			break
		}
		d.Dot = fixed.P(bg.Min.X+textPadding, baseline)
		d.DrawString(line)
		baseline += lineHeight
	}
}

// wrapText breaks text into lines no wider than width pixels. A single word
// wider than width gets a line of its own.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		candidate := line + " " + w
		if font.MeasureString(face, candidate).Ceil() <= width {
			line = candidate
			continue
		}
		lines = append(lines, line)
		line = w
	}
	return append(lines, line)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
