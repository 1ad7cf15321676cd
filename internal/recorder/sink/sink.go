// Package sink provides atomic, append-only creation of recorded audio
// files under a fixed recording root, plus bounded cleanup of partial
// files and their now-empty parent directories.
package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrAlreadyExists is returned by OpenNew when the target file already
// exists. The caller treats this as success-with-skip.
var ErrAlreadyExists = errors.New("sink: file already exists")

// Sink creates and removes files rooted at a fixed recording directory.
// Cleanup never ascends at or above root.
type Sink struct {
	root string
}

// New returns a Sink rooted at root. root must be an absolute, existing
// directory; it is not created by New.
func New(root string) *Sink {
	return &Sink{root: filepath.Clean(root)}
}

// Handle is an open write handle for one recorded file.
type Handle struct {
	f    *os.File
	path string
}

// Path returns the handle's on-disk path.
func (h *Handle) Path() string { return h.path }

// OpenNew creates every missing directory component of path (relative to
// the sink's root, or an absolute path under it) and then opens the leaf
// with create-new-exclusive semantics. It returns ErrAlreadyExists,
// distinct from other I/O errors, if the file is already present.
func (s *Sink) OpenNew(path string) (*Handle, error) {
	full := s.resolve(path)

	if err := mkdirAllRetry(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("sink: create parent directories: %w", err)
	}

	f, err := openExclRetry(full, 0o664)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("sink: create file: %w", err)
	}

	return &Handle{f: f, path: full}, nil
}

// Append writes all of b to the handle. A short write is treated as fatal.
func (h *Handle) Append(b []byte) error {
	n, err := h.f.Write(b)
	if err != nil {
		return fmt.Errorf("sink: write: %w", err)
	}
	if n != len(b) {
		return fmt.Errorf("sink: short write: wrote %d of %d bytes", n, len(b))
	}
	return nil
}

// Close flushes and releases the handle.
func (h *Handle) Close() error {
	if err := h.f.Sync(); err != nil {
		h.f.Close()
		return fmt.Errorf("sink: sync: %w", err)
	}
	return h.f.Close()
}

// DeleteWithEmptyParents removes path, then walks upward removing each
// parent directory until one is non-empty, does not exist, or is at/above
// the sink's root.
func (s *Sink) DeleteWithEmptyParents(path string) error {
	full := s.resolve(path)

	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sink: delete file: %w", err)
	}

	dir := filepath.Dir(full)
	for {
		if !s.withinRoot(dir) {
			return nil
		}

		err := os.Remove(dir)
		switch {
		case err == nil:
			dir = filepath.Dir(dir)
			continue
		case os.IsNotExist(err):
			return nil
		case isNotEmpty(err):
			return nil
		default:
			return fmt.Errorf("sink: remove parent directory %q: %w", dir, err)
		}
	}
}

// resolve joins path onto the sink's root unless path is already absolute.
func (s *Sink) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.root, path)
}

// withinRoot reports whether dir is strictly below the sink's root, never
// allowing cleanup to remove the root itself or anything outside it.
func (s *Sink) withinRoot(dir string) bool {
	dir = filepath.Clean(dir)
	if dir == s.root {
		return false
	}
	rel, err := filepath.Rel(s.root, dir)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || len(rel) >= 2 && rel[:2] == ".." {
		return false
	}
	return true
}

func isNotEmpty(err error) bool {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return errors.Is(pe.Err, syscallNotEmpty) || pe.Err.Error() == "directory not empty"
	}
	return false
}

// mkdirAllRetry and openExclRetry retry on transient EINTR, matching the
// platform's interruptible-syscall behavior for open()/fdopen() equivalents.
func mkdirAllRetry(dir string, perm os.FileMode) error {
	for {
		err := os.MkdirAll(dir, perm)
		if err == nil || !errors.Is(err, errInterrupted) {
			return err
		}
	}
}

func openExclRetry(path string, perm os.FileMode) (*os.File, error) {
	for {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, perm)
		if err == nil || !errors.Is(err, errInterrupted) {
			return f, err
		}
	}
}
