// Package translate defines the Translator interface for machine translation
// backends.
//
// Languages are identified by the codes in package lang. An empty source
// language asks the backend to detect the language itself.
//
// Implementations must be safe for concurrent use.
package translate

import "context"

// Translator is the abstraction over any machine translation backend.
type Translator interface {
	// Translate returns text rendered in targetLang. sourceLang may be empty
	// for auto-detection. Whitespace-only input may be returned unchanged
	// without contacting the backend.
	Translate(ctx context.Context, sourceLang, targetLang, text string) (string, error)
}
