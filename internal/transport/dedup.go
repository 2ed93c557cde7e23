package transport

import (
	"sync"
	"time"

	"github.com/MrWong99/lingolens/internal/event"
)

const (
	// DefaultDedupWindow suppresses a progressive transcript identical to one
	// sent this recently.
	DefaultDedupWindow = time.Second

	// DefaultFinalHistory is how many distinct final transcripts an observer
	// remembers.
	DefaultFinalHistory = 5
)

type transcriptKey struct {
	original   string
	translated string
}

// Dedup filters the transcript events sent to one observer. A progressive
// transcript whose (original, translated) pair was sent less than window ago
// is dropped; a final transcript is dropped when it matches one of the first
// historyCap finals already sent. Only the first historyCap finals are kept,
// which bounds memory in long sessions.
type Dedup struct {
	window     time.Duration
	historyCap int
	now        func() time.Time

	mu     sync.Mutex
	recent map[transcriptKey]time.Time
	finals []transcriptKey
}

// NewDedup returns a Dedup with the given window and final history size.
// Non-positive arguments select the defaults.
func NewDedup(window time.Duration, historyCap int) *Dedup {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if historyCap <= 0 {
		historyCap = DefaultFinalHistory
	}
	return &Dedup{
		window:     window,
		historyCap: historyCap,
		now:        time.Now,
		recent:     make(map[transcriptKey]time.Time),
	}
}

// Allow reports whether t should be sent and records it if so.
func (d *Dedup) Allow(t *event.Transcript) bool {
	key := transcriptKey{original: t.Original, translated: t.Translated}

	d.mu.Lock()
	defer d.mu.Unlock()

	if t.IsFinal {
		for _, k := range d.finals {
			if k == key {
				return false
			}
		}
		if len(d.finals) < d.historyCap {
			d.finals = append(d.finals, key)
		}
		return true
	}

	now := d.now()
	for k, at := range d.recent {
		if now.Sub(at) >= d.window {
			delete(d.recent, k)
		}
	}
	if _, seen := d.recent[key]; seen {
		return false
	}
	d.recent[key] = now
	return true
}
