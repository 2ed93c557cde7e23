// Package mock provides a test double for the stt.Recognizer interface.
//
// Example:
//
//	r := &mock.Recognizer{Texts: []string{"hello", "world"}}
//	text, _ := r.Recognize(ctx, wav, "en") // "hello"
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/lingolens/pkg/provider/stt"
)

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// Audio is a copy of the WAV bytes passed to Recognize.
	Audio []byte
	// Language is the language passed to Recognize.
	Language string
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Texts are returned by successive calls. When exhausted, Text is used.
	Texts []string

	// Text is returned once Texts is exhausted.
	Text string

	// Err, if non-nil, is returned as the error from Recognize.
	Err error

	// ErrAt, if non-empty, maps a 1-based call number to an error for that
	// call only.
	ErrAt map[int]error

	// Delay, if > 0, makes Recognize wait before answering (or until ctx ends).
	Delay time.Duration

	// Calls records every call to Recognize.
	Calls []RecognizeCall
}

// Recognize records the call and returns the next configured result.
func (r *Recognizer) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, RecognizeCall{Audio: append([]byte(nil), wav...), Language: language})
	n := len(r.Calls)
	delay := r.Delay
	var text string
	if len(r.Texts) > 0 {
		text, r.Texts = r.Texts[0], r.Texts[1:]
	} else {
		text = r.Text
	}
	err := r.Err
	if e, ok := r.ErrAt[n]; ok {
		err = e
	}
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = nil
}
