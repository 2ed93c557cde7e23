// Package mock provides test doubles for the media package interfaces.
//
// Source replays a fixed list of frames. Opener hands out a configured Source
// (or error). Transcoder writes canned bytes to the destination path so that
// callers reading the artifact back see deterministic content.
package mock

import (
	"context"
	"image"
	"image/color"
	"io"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/lingolens/pkg/media"
)

// Compile-time interface assertions.
var (
	_ media.Source     = (*Source)(nil)
	_ media.Opener     = (*Opener)(nil)
	_ media.Transcoder = (*Transcoder)(nil)
)

// SolidFrames returns n frames of the given size filled with c. Handy as
// Source.Frames in tests.
func SolidFrames(n, w, h int, c color.RGBA) []media.Frame {
	frames := make([]media.Frame, n)
	for i := range frames {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = c.R, c.G, c.B, c.A
		}
		frames[i] = media.Frame{Seq: i + 1, Image: img}
	}
	return frames
}

// Source is a mock implementation of media.Source.
type Source struct {
	mu sync.Mutex

	// VideoInfo is returned by Info.
	VideoInfo media.VideoInfo

	// Frames are returned in order by Next, followed by io.EOF.
	Frames []media.Frame

	// NextErr, if non-nil, is returned by Next once Frames are exhausted
	// instead of io.EOF.
	NextErr error

	// FailAt, if > 0, makes the FailAt-th call to Next return NextErr.
	FailAt int

	// Block, if true, makes Next block until ctx is done once Frames are
	// exhausted, emulating a live device that never ends.
	Block bool

	next       int
	nextCalls  int
	CloseCalls int
}

// Info returns VideoInfo.
func (s *Source) Info() media.VideoInfo { return s.VideoInfo }

// Next returns the next configured frame.
func (s *Source) Next(ctx context.Context) (media.Frame, error) {
	s.mu.Lock()
	s.nextCalls++
	if s.FailAt > 0 && s.nextCalls == s.FailAt {
		err := s.NextErr
		s.mu.Unlock()
		return media.Frame{}, err
	}
	if s.next < len(s.Frames) {
		f := s.Frames[s.next]
		s.next++
		s.mu.Unlock()
		return f, nil
	}
	block, err := s.Block, s.NextErr
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return media.Frame{}, ctx.Err()
	}
	if err != nil && s.FailAt == 0 {
		return media.Frame{}, err
	}
	return media.Frame{}, io.EOF
}

// Close records the call.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

// Closed reports how many times Close was called. Thread-safe.
func (s *Source) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls
}

// Opener is a mock implementation of media.Opener.
type Opener struct {
	mu sync.Mutex

	// Source is returned by Open.
	Source media.Source

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// Refs records every ref passed to Open.
	Refs []string
}

// Open records ref and returns Source, OpenErr.
func (o *Opener) Open(_ context.Context, ref string) (media.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Refs = append(o.Refs, ref)
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	return o.Source, nil
}

// ExtractCall records a single invocation of Transcoder.ExtractAudio.
type ExtractCall struct {
	MediaPath string
	Dst       string
	Start     time.Duration
	Length    time.Duration
}

// RemuxCall records a single invocation of Transcoder.Remux.
type RemuxCall struct {
	Src string
	Dst string
}

// Transcoder is a mock implementation of media.Transcoder.
type Transcoder struct {
	mu sync.Mutex

	// MediaDuration is returned by Duration.
	MediaDuration time.Duration

	// DurationErr, if non-nil, is returned by Duration.
	DurationErr error

	// Output is written to dst by ExtractAudio and Remux.
	Output []byte

	// ExtractErr and RemuxErr, if non-nil, are returned without writing dst.
	ExtractErr error
	RemuxErr   error

	// Delay, if > 0, makes ExtractAudio and Remux wait that long (or until ctx
	// ends, returning ctx.Err()).
	Delay time.Duration

	ExtractCalls []ExtractCall
	RemuxCalls   []RemuxCall
}

// Duration returns MediaDuration, DurationErr.
func (t *Transcoder) Duration(_ context.Context, _ string) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.MediaDuration, t.DurationErr
}

// ExtractAudio records the call and writes Output to dst.
func (t *Transcoder) ExtractAudio(ctx context.Context, mediaPath, dst string, start, length time.Duration) error {
	t.mu.Lock()
	t.ExtractCalls = append(t.ExtractCalls, ExtractCall{MediaPath: mediaPath, Dst: dst, Start: start, Length: length})
	err, out, delay := t.ExtractErr, t.Output, t.Delay
	t.mu.Unlock()
	return t.produce(ctx, dst, out, delay, err)
}

// Remux records the call and writes Output to dst.
func (t *Transcoder) Remux(ctx context.Context, src, dst string) error {
	t.mu.Lock()
	t.RemuxCalls = append(t.RemuxCalls, RemuxCall{Src: src, Dst: dst})
	err, out, delay := t.RemuxErr, t.Output, t.Delay
	t.mu.Unlock()
	return t.produce(ctx, dst, out, delay, err)
}

func (t *Transcoder) produce(ctx context.Context, dst string, out []byte, delay time.Duration, err error) error {
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return os.WriteFile(dst, out, 0o600)
}

// Extracts returns a copy of the recorded ExtractAudio calls. Thread-safe.
func (t *Transcoder) Extracts() []ExtractCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ExtractCall, len(t.ExtractCalls))
	copy(out, t.ExtractCalls)
	return out
}

// Remuxes returns a copy of the recorded Remux calls. Thread-safe.
func (t *Transcoder) Remuxes() []RemuxCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RemuxCall, len(t.RemuxCalls))
	copy(out, t.RemuxCalls)
	return out
}
