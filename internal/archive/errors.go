package archive

import "errors"

// ErrNotFound is returned by [Store.Transcript] for unknown session ids.
var ErrNotFound = errors.New("archive: transcript not found")
