// Package lang holds the table of languages lingolens can translate between.
//
// Codes follow the conventions of the translation backends (BCP-47 style,
// e.g. "zh-Hans"). An empty source code means the recognizer should detect the
// spoken language itself.
package lang

import (
	"fmt"
	"strings"
)

// Auto is the source language code that requests automatic detection.
const Auto = ""

const (
	// DefaultSource is used when a session does not name a source language.
	DefaultSource = "en"

	// DefaultTarget is used when a session does not name a target language.
	DefaultTarget = "es"
)

// Language is one entry of the supported language table.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var supported = []Language{
	{Code: "en", Name: "English"},
	{Code: "es", Name: "Spanish"},
	{Code: "fr", Name: "French"},
	{Code: "de", Name: "German"},
	{Code: "it", Name: "Italian"},
	{Code: "pt", Name: "Portuguese"},
	{Code: "zh-Hans", Name: "Chinese (Simplified)"},
	{Code: "ja", Name: "Japanese"},
	{Code: "ko", Name: "Korean"},
	{Code: "ru", Name: "Russian"},
	{Code: "ar", Name: "Arabic"},
	{Code: "hi", Name: "Hindi"},
}

// Supported returns a copy of the supported language table in display order.
func Supported() []Language {
	out := make([]Language, len(supported))
	copy(out, supported)
	return out
}

// IsSupported reports whether code names a supported language.
func IsSupported(code string) bool {
	for _, l := range supported {
		if l.Code == code {
			return true
		}
	}
	return false
}

// Name returns the display name for code, or code itself when unknown.
func Name(code string) string {
	if code == Auto {
		return "Auto-detect"
	}
	for _, l := range supported {
		if l.Code == code {
			return l.Name
		}
	}
	return code
}

// RecognitionCode converts code to the two-letter ISO-639-1 form expected by
// speech recognizers ("zh-Hans" becomes "zh"). Auto stays empty.
func RecognitionCode(code string) string {
	base, _, _ := strings.Cut(code, "-")
	return strings.ToLower(base)
}

// ValidatePair checks that target is supported and that source is either
// supported or [Auto].
func ValidatePair(source, target string) error {
	if target == "" {
		return fmt.Errorf("lang: target language is required")
	}
	if !IsSupported(target) {
		return fmt.Errorf("lang: unsupported target language %q", target)
	}
	if source != Auto && !IsSupported(source) {
		return fmt.Errorf("lang: unsupported source language %q", source)
	}
	return nil
}
