// Package mock provides a test double for the translate.Translator interface.
//
// By default the mock "translates" by tagging the input with the target
// language ("[es] hello"), which keeps assertions readable.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/lingolens/pkg/provider/translate"
)

// Ensure Translator implements translate.Translator at compile time.
var _ translate.Translator = (*Translator)(nil)

// TranslateCall records a single invocation of Translator.Translate.
type TranslateCall struct {
	SourceLang string
	TargetLang string
	Text       string
}

// Translator is a mock implementation of translate.Translator.
type Translator struct {
	mu sync.Mutex

	// Responses maps an input text to a canned translation. Texts not present
	// fall back to Func, then to the "[target] text" default.
	Responses map[string]string

	// Func, if set, computes the translation.
	Func func(sourceLang, targetLang, text string) string

	// Err, if non-nil, is returned as the error from Translate.
	Err error

	// Delay, if > 0, makes Translate wait before answering (or until ctx ends).
	Delay time.Duration

	// Calls records every call to Translate.
	Calls []TranslateCall
}

// Translate records the call and returns the configured translation.
func (t *Translator) Translate(ctx context.Context, sourceLang, targetLang, text string) (string, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, TranslateCall{SourceLang: sourceLang, TargetLang: targetLang, Text: text})
	resp, ok := t.Responses[text]
	fn, err, delay := t.Func, t.Err, t.Delay
	t.mu.Unlock()

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
	switch {
	case ok:
		return resp, nil
	case fn != nil:
		return fn(sourceLang, targetLang, text), nil
	default:
		return "[" + targetLang + "] " + text, nil
	}
}

// CallCount returns the number of recorded calls. Thread-safe.
func (t *Translator) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Texts returns the text of every recorded call, in order. Thread-safe.
func (t *Translator) Texts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.Calls))
	for i, c := range t.Calls {
		out[i] = c.Text
	}
	return out
}
