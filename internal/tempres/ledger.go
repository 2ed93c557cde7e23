// Package tempres tracks the temporary files a session creates so that none
// of them outlive the session.
//
// Each [Ledger] owns a private directory. Code paths that create an artifact
// release it themselves when done ([Ledger.Release]); whatever is left when
// the session ends is removed by [Ledger.Sweep] together with the directory.
package tempres

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/lingolens/internal/pipeline"
)

// dirPrefix prefixes every session directory so stale ones can be found.
const dirPrefix = "lingolens-"

// ErrSwept is returned when an artifact is requested from a ledger that has
// already been swept.
var ErrSwept = errors.New("tempres: ledger already swept")

// Ledger is the per-session set of temporary artifacts. It is safe for
// concurrent use by the session's tasks and the shutdown sweep.
type Ledger struct {
	dir string

	mu    sync.Mutex
	paths map[string]struct{}
	swept bool
}

// New creates a ledger with a fresh directory under baseDir (os.TempDir()
// when empty) whose name contains sessionID.
func New(baseDir, sessionID string) (*Ledger, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	dir, err := os.MkdirTemp(baseDir, dirPrefix+sessionID+"-")
	if err != nil {
		return nil, fmt.Errorf("tempres: create session dir: %w", err)
	}
	return &Ledger{dir: dir, paths: make(map[string]struct{})}, nil
}

// Dir returns the ledger's private directory.
func (l *Ledger) Dir() string {
	return l.dir
}

// Create creates a new empty file in the ledger directory using
// [os.CreateTemp] pattern semantics and tracks it. The caller closes the file.
func (l *Ledger) Create(pattern string) (*os.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.swept {
		return nil, ErrSwept
	}
	f, err := os.CreateTemp(l.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("tempres: create %q: %w", pattern, err)
	}
	l.paths[f.Name()] = struct{}{}
	return f, nil
}

// Reserve creates and closes an empty tracked file, returning its path. Use it
// for outputs written by external processes.
func (l *Ledger) Reserve(pattern string) (string, error) {
	f, err := l.Create(pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = l.Release(name)
		return "", fmt.Errorf("tempres: close %q: %w", name, err)
	}
	return name, nil
}

// Write stores data in a new tracked file and returns its path.
func (l *Ledger) Write(pattern string, data []byte) (string, error) {
	f, err := l.Create(pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = l.Release(name)
		return "", fmt.Errorf("tempres: write %q: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = l.Release(name)
		return "", fmt.Errorf("tempres: close %q: %w", name, err)
	}
	return name, nil
}

// Track adds an externally created path to the ledger.
func (l *Ledger) Track(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.swept {
		return ErrSwept
	}
	l.paths[path] = struct{}{}
	return nil
}

// Release deletes path and stops tracking it. A path that no longer exists is
// not an error. A failed removal keeps the path tracked for the final sweep.
func (l *Ledger) Release(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return pipeline.Wrap(pipeline.ErrResourceCleanup, "release "+path, err)
	}
	l.mu.Lock()
	delete(l.paths, path)
	l.mu.Unlock()
	return nil
}

// Len returns the number of tracked artifacts.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.paths)
}

// Sweep removes every tracked artifact and the ledger directory. Later calls
// to Create, Reserve, Write, or Track fail with [ErrSwept]. Sweep is
// idempotent; failures are joined and classified as
// [pipeline.ErrResourceCleanup].
func (l *Ledger) Sweep() error {
	l.mu.Lock()
	if l.swept {
		l.mu.Unlock()
		return nil
	}
	l.swept = true
	paths := make([]string, 0, len(l.paths))
	for p := range l.paths {
		paths = append(paths, p)
	}
	clear(l.paths)
	l.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(l.dir); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return pipeline.Wrap(pipeline.ErrResourceCleanup, "sweep "+l.dir, errors.Join(errs...))
	}
	return nil
}

// SweepStale removes session directories under baseDir left behind by a
// previous process that were last modified before now-olderThan. It returns
// the number of directories removed.
func SweepStale(baseDir string, olderThan time.Duration) (int, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return 0, fmt.Errorf("tempres: read %q: %w", baseDir, err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(baseDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("tempres: failed to remove stale session dir", "path", path, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}
