// Package workspace provides scoped temporary directories for per-revision
// checkouts and provisioned environments. Release is guaranteed-safe to call
// on every pipeline exit path, including after a failed Enter.
package workspace

import (
	"fmt"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/polybuild/internal/logfields"
)

// Scope is a temporary directory tied to one pipeline. Enter creates it,
// Release removes it. Release is idempotent.
type Scope struct {
	prefix string
	dir    string
	keep   bool
}

// NewScope creates a scope whose directory will carry the given name prefix.
func NewScope(prefix string) *Scope {
	if prefix == "" {
		prefix = "polybuild"
	}
	return &Scope{prefix: prefix}
}

// NewKeepScope creates a scope that is never removed on Release. Used for
// persistent working directories.
func NewKeepScope(dir string) *Scope {
	return &Scope{dir: dir, keep: true}
}

// Enter creates the temporary directory. Calling Enter twice is a
// programming error.
func (s *Scope) Enter() (string, error) {
	if s.keep {
		if err := os.MkdirAll(s.dir, 0o750); err != nil {
			return "", fmt.Errorf("create workspace directory: %w", err)
		}
		return s.dir, nil
	}
	if s.dir != "" {
		return "", fmt.Errorf("scope already entered: %s", s.dir)
	}
	dir, err := os.MkdirTemp("", s.prefix+"-")
	if err != nil {
		return "", fmt.Errorf("create workspace directory: %w", err)
	}
	s.dir = dir
	slog.Debug("Created workspace", logfields.Path(dir))
	return dir, nil
}

// Path returns the directory, or "" before Enter / after Release.
func (s *Scope) Path() string {
	return s.dir
}

// Release removes the directory. Safe to call multiple times and safe when
// Enter failed or was never called.
func (s *Scope) Release() error {
	if s.dir == "" || s.keep {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("cleanup workspace: %w", err)
	}
	slog.Debug("Cleaned up workspace", logfields.Path(s.dir))
	s.dir = ""
	return nil
}
