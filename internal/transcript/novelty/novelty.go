// Package novelty suppresses repeated live transcripts.
//
// Live audio arrives in short overlapping chunks, so consecutive chunks often
// recognize to the same words. A [Filter] remembers the last accepted text
// and rejects a new one when it is too similar (case-insensitive Jaro-Winkler
// above the threshold) or contributes no word the previous text did not
// already contain.
package novelty

import (
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

// DefaultThreshold is the similarity above which a text counts as a repeat.
const DefaultThreshold = 0.85

// Filter decides whether a transcript adds new content. It is safe for
// concurrent use.
type Filter struct {
	threshold float64

	mu   sync.Mutex
	last string
}

// New returns a Filter with the given similarity threshold. Values outside
// (0, 1] fall back to [DefaultThreshold].
func New(threshold float64) *Filter {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Filter{threshold: threshold}
}

// Accept reports whether text is new relative to the last accepted text and,
// if so, remembers it. Blank text is never accepted.
func (f *Filter) Accept(text string) bool {
	norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if norm == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last != "" {
		if matchr.JaroWinkler(f.last, norm, false) > f.threshold {
			return false
		}
		if !hasNewWord(f.last, norm) {
			return false
		}
	}
	f.last = norm
	return true
}

// Reset forgets the last accepted text.
func (f *Filter) Reset() {
	f.mu.Lock()
	f.last = ""
	f.mu.Unlock()
}

func hasNewWord(prev, next string) bool {
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(prev) {
		seen[w] = struct{}{}
	}
	for _, w := range strings.Fields(next) {
		if _, ok := seen[w]; !ok {
			return true
		}
	}
	return false
}
