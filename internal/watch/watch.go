// Package watch triggers local rebuilds when files under the repository
// change. Events are debounced so one save burst causes one rebuild.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/polybuild/internal/logfields"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher observes a directory tree recursively.
type Watcher struct {
	root     string
	debounce time.Duration
	ignore   func(rel string) bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the settle interval between the last event and the
// rebuild trigger.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithIgnore installs an additional path filter. rel is slash-separated and
// relative to the watch root.
func WithIgnore(ignore func(rel string) bool) Option {
	return func(w *Watcher) { w.ignore = ignore }
}

// New creates a watcher rooted at root.
func New(root string, opts ...Option) *Watcher {
	w := &Watcher{root: root, debounce: defaultDebounce}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until the context is cancelled, calling onChange after each
// settled burst of file events. onChange runs on the watch goroutine, so a
// rebuild blocks further triggers until it returns.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}
	slog.Info("Watching for changes", logfields.Path(w.root))

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(event.Name) {
				continue
			}
			// new directories need their own watch before files in
			// them produce events
			if event.Op.Has(fsnotify.Create) {
				if err := w.addTree(fsw, event.Name); err != nil {
					slog.Debug("Failed to watch new path", logfields.Path(event.Name), logfields.Error(err))
				}
			}
			slog.Debug("Change detected", logfields.Path(event.Name))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				// the timer may have fired already; drain the stale
				// value so Reset arms a full interval
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Watch error", logfields.Error(err))

		case <-fire:
			timer = nil
			fire = nil
			onChange(ctx)
		}
	}
}

// addTree registers path and every non-ignored directory below it.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // races with deletions are expected
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(p) {
			return filepath.SkipDir
		}
		return fsw.Add(p)
	})
}

func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return true
	}
	return w.ignore != nil && w.ignore(rel)
}
