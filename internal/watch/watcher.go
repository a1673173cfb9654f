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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Config.Debounce is unset.
const DefaultDebounce = 500 * time.Millisecond

var (
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("watcher is already running")

	// ErrInvalidPattern is wrapped by New for malformed ignore globs.
	ErrInvalidPattern = errors.New("invalid ignore pattern")

	defaultIgnores = []string{
		"**/.git/**",
		"**/*.swp",
		"**/*.swx",
		"**/*~",
		"**/.DS_Store",
		"**/4913",
	}
)

type (
	// Config describes the inputs of one build.
	Config struct {
		// Dirs are watched recursively. Directories created later are added.
		Dirs []string
		// Files are watched individually, surviving editors that replace the
		// file by rename.
		Files []string
		// Ignore holds doublestar globs matched against paths relative to
		// their watched directory. The defaults cover VCS data and editor
		// swap files.
		Ignore   []string
		Debounce time.Duration
		// OnChange receives the changed paths, sorted. A failing callback is
		// logged and watching continues.
		OnChange func(ctx context.Context, changed []string) error
		Logger   *log.Logger
	}

	// Watcher fires Config.OnChange after input changes settle. Run may be
	// called once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		dirs     []string
		files    map[string]struct{}
		ignores  []string
		debounce time.Duration
		logger   *log.Logger
		started  atomic.Bool
	}
)

// New validates cfg and registers every watched path.
func New(cfg Config) (*Watcher, error) {
	for _, pat := range cfg.Ignore {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("%w %q", ErrInvalidPattern, pat)
		}
	}
	if len(cfg.Dirs) == 0 && len(cfg.Files) == 0 {
		return nil, errors.New("nothing to watch")
	}

	w := &Watcher{
		cfg:      cfg,
		files:    make(map[string]struct{}, len(cfg.Files)),
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.logger == nil {
		w.logger = log.New(io.Discard)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.fsw = fsw

	if err := w.register(); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) register() error {
	for _, f := range w.cfg.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", f, err)
		}
		w.files[abs] = struct{}{}
		if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", f, err)
		}
	}
	for _, d := range w.cfg.Dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", d, err)
		}
		if fi, err := os.Stat(abs); err != nil {
			return fmt.Errorf("failed to watch %s: %w", d, err)
		} else if !fi.IsDir() {
			return fmt.Errorf("failed to watch %s: not a directory", d)
		}
		w.dirs = append(w.dirs, abs)
		if err := w.addTree(abs, abs); err != nil {
			return err
		}
	}
	return nil
}

// addTree watches dir and every directory below it that is not ignored.
// Unreadable directories are skipped.
func (w *Watcher) addTree(root, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("not watching unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(root, path+string(filepath.Separator)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// relevant reports whether path is a watched file or lies in a watched tree
// outside the ignore patterns. It returns the owning tree root, if any.
func (w *Watcher) relevant(path string) (string, bool) {
	if _, ok := w.files[path]; ok {
		return "", true
	}
	for _, root := range w.dirs {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root, !w.ignored(root, path)
		}
	}
	return "", false
}

func (w *Watcher) ignored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasSuffix(path, string(filepath.Separator)) {
		rel += "/"
	}
	for _, pat := range w.ignores {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

// Run dispatches debounced callbacks until ctx is done. A callback still
// running when the next batch is due delays that batch instead of
// overlapping it.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() { _ = w.fsw.Close() }()

	var (
		mu       sync.Mutex
		pending  = map[string]struct{}{}
		timer    *time.Timer
		busy     bool
		stopped  bool
		inflight sync.WaitGroup
	)
	fire := func() {
		mu.Lock()
		if stopped || ctx.Err() != nil {
			mu.Unlock()
			return
		}
		if busy {
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		busy = true
		inflight.Add(1)
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()
		defer func() {
			mu.Lock()
			busy = false
			mu.Unlock()
			inflight.Done()
		}()

		if len(changed) == 0 || w.cfg.OnChange == nil {
			return
		}
		if err := w.cfg.OnChange(ctx, changed); err != nil {
			w.logger.Error("rebuild failed", "error", err)
		}
	}
	// Run returns only after a callback already in progress has finished.
	defer func() {
		mu.Lock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		inflight.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("file watcher closed unexpectedly")
			}
			root, ok := w.relevant(ev.Name)
			if !ok || ev.Op == fsnotify.Chmod {
				continue
			}
			if root != "" && ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.addTree(root, ev.Name); err != nil {
						w.logger.Warn("not watching new directory", "path", ev.Name, "error", err)
					}
				}
			}
			w.logger.Debug("input changed", "path", ev.Name, "op", ev.Op.String())

			mu.Lock()
			pending[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("file watcher closed unexpectedly")
			}
			if isFatal(err) {
				return fmt.Errorf("file watcher failed: %w", err)
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}
