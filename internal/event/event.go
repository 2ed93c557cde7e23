// Package event defines the messages the translation pipelines push to
// observers. Every pipeline operation returns a receive-only channel of
// [Event] values that the producer closes when it is done; consumers drain the
// channel until it is closed.
package event

import "context"

// Kind discriminates the payload carried by an [Event].
type Kind string

const (
	KindFrame              Kind = "frame"
	KindTextDetected       Kind = "text_detected"
	KindTranscript         Kind = "transcript"
	KindVideoMetadata      Kind = "video_metadata"
	KindProcessingComplete Kind = "processing_complete"
	KindProcessingError    Kind = "processing_error"

	// KindCaptureEnded reports that a live session's overlay capture stopped.
	// The session itself stays open.
	KindCaptureEnded Kind = "capture_ended"
)

// Terminal reports whether k ends a session's event stream.
func (k Kind) Terminal() bool {
	return k == KindProcessingComplete || k == KindProcessingError
}

// Box is an axis-aligned rectangle in frame pixel coordinates.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Frame carries one rendered, JPEG-encoded frame. Index is 1-based; Total is
// zero when the source length is unknown (live capture).
type Frame struct {
	Image []byte `json:"image"`
	Index int    `json:"index"`
	Total int    `json:"total"`
}

// TextDetected describes one on-screen text region found by a detection cycle.
type TextDetected struct {
	Original   string `json:"original"`
	Translated string `json:"translated"`
	Box        Box    `json:"box"`
}

// Transcript carries recognized and translated speech. IsFinal marks the
// single complete transcript produced by the full-track pass; progressive
// segment and live chunk transcripts have it unset.
type Transcript struct {
	Original   string `json:"original"`
	Translated string `json:"translated"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	IsFinal    bool   `json:"is_final"`
	Segment    int    `json:"segment,omitempty"`
}

// VideoMetadata describes the media source once it has been opened.
type VideoMetadata struct {
	FPS         float64 `json:"fps"`
	TotalFrames int     `json:"total_frames"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
}

// Event is a single observer-facing message. Exactly one payload field is set,
// matching Kind; terminal kinds carry no payload except Message on errors.
type Event struct {
	Kind       Kind           `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	Frame      *Frame         `json:"frame,omitempty"`
	Text       *TextDetected  `json:"text,omitempty"`
	Transcript *Transcript    `json:"transcript,omitempty"`
	Metadata   *VideoMetadata `json:"metadata,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// FrameReady builds a frame event.
func FrameReady(image []byte, index, total int) Event {
	return Event{Kind: KindFrame, Frame: &Frame{Image: image, Index: index, Total: total}}
}

// TextFound builds a text-detected event.
func TextFound(original, translated string, box Box) Event {
	return Event{Kind: KindTextDetected, Text: &TextDetected{Original: original, Translated: translated, Box: box}}
}

// TranscriptReady builds a transcript event.
func TranscriptReady(t Transcript) Event {
	return Event{Kind: KindTranscript, Transcript: &t}
}

// Metadata builds a video metadata event.
func Metadata(m VideoMetadata) Event {
	return Event{Kind: KindVideoMetadata, Metadata: &m}
}

// Complete builds the normal terminal event.
func Complete() Event {
	return Event{Kind: KindProcessingComplete}
}

// Failed builds the error terminal event.
func Failed(message string) Event {
	return Event{Kind: KindProcessingError, Message: message}
}

// CaptureEnded builds the non-terminal event that closes a live capture
// stream. message is empty when the capture ended normally.
func CaptureEnded(message string) Event {
	return Event{Kind: KindCaptureEnded, Message: message}
}

// Send delivers ev on ch unless ctx is done first. It reports whether the
// event was delivered.
func Send(ctx context.Context, ch chan<- Event, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
