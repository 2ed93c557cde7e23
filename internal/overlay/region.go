package overlay

import (
	"image"
	"time"

	"github.com/MrWong99/lingolens/internal/event"
)

// Region is one detected line of on-screen text and its translation.
type Region struct {
	Rect       image.Rectangle
	Original   string
	Translated string
	DetectedAt time.Time
}

// Box returns the region rectangle in the observer-facing form.
func (r Region) Box() event.Box {
	return event.Box{X: r.Rect.Min.X, Y: r.Rect.Min.Y, W: r.Rect.Dx(), H: r.Rect.Dy()}
}

// RegionSet is the set of regions drawn on every frame, keyed by rectangle.
// It is replaced wholesale by each successful detection cycle and owned by a
// single frame loop, so it carries no lock.
type RegionSet struct {
	regions []Region
}

// Replace discards the current regions and installs next. When two regions
// share a rectangle the later one wins, keeping its original position.
func (s *RegionSet) Replace(next []Region) {
	index := make(map[image.Rectangle]int, len(next))
	regions := make([]Region, 0, len(next))
	for _, r := range next {
		if i, ok := index[r.Rect]; ok {
			regions[i] = r
			continue
		}
		index[r.Rect] = len(regions)
		regions = append(regions, r)
	}
	s.regions = regions
}

// All returns a copy of the current regions in detection order.
func (s *RegionSet) All() []Region {
	out := make([]Region, len(s.regions))
	copy(out, s.regions)
	return out
}

// Len returns the number of regions.
func (s *RegionSet) Len() int { return len(s.regions) }

// Clear removes every region.
func (s *RegionSet) Clear() { s.regions = nil }
