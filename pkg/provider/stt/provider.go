// Package stt defines the Recognizer interface for Speech-to-Text backends.
//
// A Recognizer turns one bounded chunk of audio into text. Callers cut the
// audio into chunks themselves (time windows of a media file, or browser
// recorder blobs in live mode) and transcode each chunk into 16 kHz mono
// 16-bit WAV before handing it over, so every backend receives the same
// container regardless of where the audio came from.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Recognizer is the abstraction over any STT backend.
type Recognizer interface {
	// Recognize transcribes wav, a complete RIFF/WAV file, and returns the
	// recognized text. language is a recognition code such as "en" or "zh";
	// an empty string lets the backend auto-detect.
	//
	// An empty result with a nil error means the audio contained no speech.
	Recognize(ctx context.Context, wav []byte, language string) (string, error)
}
