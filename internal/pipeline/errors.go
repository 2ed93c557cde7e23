// Package pipeline holds the pieces shared by every translation pipeline: the
// error taxonomy used to classify failures and [Services], the instrumented
// bundle of external collaborators (recognizer, translator, detector,
// transcoder) the pipelines call out to.
package pipeline

import (
	"errors"
	"fmt"
)

// Failure classes. Use [errors.Is] against these to decide whether a failure is
// fatal for a session (only [ErrSourceOpen] and unrecoverable loop errors are)
// or isolated to one detection cycle, segment, or audio chunk.
var (
	// ErrSourceOpen means the media source could not be opened. It aborts
	// session start.
	ErrSourceOpen = errors.New("source open failed")

	// ErrDetection means one OCR call failed. The overlay keeps its previous
	// regions.
	ErrDetection = errors.New("text detection failed")

	// ErrTranscription means recognition failed for one segment or chunk.
	ErrTranscription = errors.New("transcription failed")

	// ErrTranslation means translation failed for one segment, chunk, or line.
	ErrTranslation = errors.New("translation failed")

	// ErrTranscodeTimeout means the external transcoder was killed after
	// exceeding its deadline. The chunk or segment is dropped.
	ErrTranscodeTimeout = errors.New("transcode timed out")

	// ErrResourceCleanup means removing a temporary artifact failed. It is
	// logged and never blocks session completion.
	ErrResourceCleanup = errors.New("resource cleanup failed")
)

// Error attaches a failure class and the failing operation to an underlying
// cause. It matches both the class and the cause under [errors.Is].
type Error struct {
	Kind error
	Op   string
	Err  error
}

// Wrap returns err classified as kind. A nil err yields nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the class and the cause.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// IsFatal reports whether err should terminate a session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSourceOpen)
}
