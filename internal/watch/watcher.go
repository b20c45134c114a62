// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/invowk/msrun/internal/session"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("watcher already running")

type (
	// OnChange receives the changed paths, relative to Config.Dir and sorted,
	// once the debounce window closes.
	OnChange func(ctx context.Context, changed []string) error

	// Rebuilder is the part of a session a Watcher drives.
	Rebuilder interface {
		Rebuild(ctx context.Context, changed string, req *session.RebuildRequest) error
	}

	// Option configures a Watcher.
	Option func(*Watcher)

	// Watcher fires OnChange after matching files below Config.Dir change.
	// Run must be called once.
	Watcher struct {
		cfg      Config
		dir      string
		ignores  []string
		onChange OnChange
		fsw      *fsnotify.Watcher
		logger   *log.Logger
		started  atomic.Bool
	}
)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *log.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l.WithPrefix("watch")
		}
	}
}

// RebuildOnChange adapts a Rebuilder to OnChange. The first changed path
// names the rebuild; the session replays its last build and start.
func RebuildOnChange(r Rebuilder, dir string) OnChange {
	return func(ctx context.Context, changed []string) error {
		if len(changed) == 0 {
			return nil
		}
		return r.Rebuild(ctx, filepath.Join(dir, changed[0]), nil)
	}
}

// New validates cfg and registers every non-ignored directory below cfg.Dir.
func New(cfg Config, onChange OnChange, opts ...Option) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve watch directory: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		dir:      dir,
		ignores:  append(DefaultIgnores(), cfg.Ignore...),
		onChange: onChange,
		logger:   log.NewWithOptions(io.Discard, log.Options{Prefix: "watch"}),
	}
	for _, opt := range opts {
		opt(w)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w.fsw = fsw
	if err := w.addTree(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is done. It returns nil on cancellation
// and an error when the underlying watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("close fsnotify", "error", err)
		}
	}()

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		busy    atomic.Bool
	)
	debounce := w.cfg.debounce()

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !busy.CompareAndSwap(false, true) {
			// A rebuild is still running; retry after another quiet period.
			w.logger.Debug("rebuild in progress, deferring")
			mu.Lock()
			timer.Reset(debounce)
			mu.Unlock()
			return
		}
		defer busy.Store(false)

		mu.Lock()
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()
		if len(changed) == 0 || w.onChange == nil {
			return
		}

		w.logger.Info("change detected", "paths", changed)
		if err := w.onChange(ctx, changed); err != nil {
			w.logger.Error("rebuild failed", "error", err)
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("fsnotify event channel closed")
			}
			if evt.Op == fsnotify.Chmod {
				continue
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAdd(evt.Name)
			}
			rel, ok := w.relevant(evt.Name)
			if !ok {
				continue
			}

			mu.Lock()
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(debounce, fire)
			} else {
				timer.Reset(debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("fsnotify error channel closed")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("fatal fsnotify error: %w", err)
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

// relevant maps an absolute event path to its slash-separated path below
// the root and reports whether it should trigger a rebuild.
func (w *Watcher) relevant(path string) (string, bool) {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if w.ignored(rel) {
		return "", false
	}
	if len(w.cfg.Patterns) == 0 {
		return rel, true
	}
	return rel, matchAny(w.cfg.Patterns, rel)
}

func (w *Watcher) ignored(rel string) bool {
	return matchAny(w.ignores, rel) || matchAny(w.ignores, rel+"/")
}

func (w *Watcher) addTree(root string) error {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("skipping inaccessible path", "path", path, "error", walkErr)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(w.dir, path); relErr == nil && rel != "." && w.ignored(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch directory %q: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}
	return nil
}

// maybeAdd extends the watch to directories created after startup.
func (w *Watcher) maybeAdd(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addTree(path); err != nil {
		w.logger.Warn("watch new directory", "path", path, "error", err)
	}
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}
