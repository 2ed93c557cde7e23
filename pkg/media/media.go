// Package media defines the contracts between the translation pipelines and
// the media they consume: ordered frame sources for video and a transcoder for
// audio extraction and format conversion.
//
// The ffmpeg subpackage provides the production implementation; the mock
// subpackage provides test doubles.
package media

import (
	"context"
	"errors"
	"image"
	"time"
)

// ErrNoDuration is returned by [Transcoder.Duration] when the media carries no
// usable duration (live streams, damaged containers).
var ErrNoDuration = errors.New("media: duration unavailable")

// Frame is one decoded video frame. Frames are never mutated after capture;
// consumers draw onto a copy.
type Frame struct {
	// Seq is the 1-based position of the frame in its source.
	Seq int

	// Image holds the raw pixels.
	Image *image.RGBA

	// Timestamp is the presentation offset from the start of the source.
	Timestamp time.Duration
}

// VideoInfo describes an opened source.
type VideoInfo struct {
	// FPS is the native frame rate; zero when unknown.
	FPS float64

	// TotalFrames is the number of frames the source will yield; zero when
	// unknown (live sources).
	TotalFrames int

	Width  int
	Height int

	// Duration is the total playback length; zero when unknown.
	Duration time.Duration
}

// Source yields frames in order. Next returns io.EOF once exhausted. Close
// releases the underlying handle and must be called on every exit path.
type Source interface {
	Info() VideoInfo
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Opener opens a frame source from a file path, device, or stream URL.
type Opener interface {
	Open(ctx context.Context, ref string) (Source, error)
}

// Transcoder runs the external audio tooling. Implementations honour ctx
// cancellation by killing the underlying process.
type Transcoder interface {
	// Duration returns the playback length of mediaPath.
	Duration(ctx context.Context, mediaPath string) (time.Duration, error)

	// ExtractAudio writes the audio of mediaPath in the window
	// [start, start+length) to dst as 16 kHz mono WAV. A zero length extracts
	// to the end of the track.
	ExtractAudio(ctx context.Context, mediaPath, dst string, start, length time.Duration) error

	// Remux converts the raw audio file src (any container ffmpeg can read)
	// into 16 kHz mono WAV at dst.
	Remux(ctx context.Context, src, dst string) error
}
