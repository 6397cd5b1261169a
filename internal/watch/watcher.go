package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
)

// Watcher observes a source tree with fsnotify and hands matching events to
// its bindings. Directories created after Start are added as they appear.
type Watcher struct {
	root     string
	bindings []*Binding
	logger   *slog.Logger

	fs    *fsnotify.Watcher
	ready chan struct{}
	once  sync.Once
}

// NewWatcher prepares a watcher for root. Nothing is observed until Run.
func NewWatcher(root string, logger *slog.Logger, bindings ...*Binding) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "resolve watch root").Build()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:     abs,
		bindings: bindings,
		logger:   logger.With(logfields.Path(abs)),
		ready:    make(chan struct{}),
	}, nil
}

// Ready is closed once every directory under root is being observed and all
// bindings accept events.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Bindings returns the bindings fed by this watcher.
func (w *Watcher) Bindings() []*Binding { return w.bindings }

// Run starts the bindings and the fsnotify loop and blocks until ctx is done.
// It returns once every in-flight rerun has finished.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create file watcher").Build()
	}
	w.fs = fw
	defer func() {
		if cerr := fw.Close(); cerr != nil {
			w.logger.Warn("Failed to close file watcher", logfields.Error(cerr))
		}
	}()

	if err := w.addDirsRecursive(w.root); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "watch source tree").
			WithContext("root", w.root).Build()
	}

	var wg sync.WaitGroup
	for _, b := range w.bindings {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Run(ctx)
		}()
		select {
		case <-b.Ready():
		case <-ctx.Done():
		}
	}
	defer wg.Wait()

	w.once.Do(func() { close(w.ready) })
	w.logger.Info("Watching for changes", slog.Int("bindings", len(w.bindings)))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	path := normalizePath(ev.Name)
	if shouldIgnore(path) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addDirsRecursive(path); err != nil {
				w.logger.Warn("Failed to watch new directory", logfields.Path(path), logfields.Error(err))
			}
			// Files copied in with the directory may predate the watch.
			w.dispatchTree(path)
			return
		}
	}
	w.dispatch(path)
}

// Dispatch hands path to every binding whose patterns match it and reports
// how many accepted it.
func (w *Watcher) Dispatch(path string) int {
	return w.dispatch(normalizePath(path))
}

func (w *Watcher) dispatch(path string) int {
	n := 0
	for _, b := range w.bindings {
		if b.Notify(path) {
			n++
		}
	}
	if n > 0 {
		w.logger.Debug("Change queued", logfields.Path(path), slog.Int("bindings", n))
	}
	return n
}

func (w *Watcher) dispatchTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != dir && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !shouldIgnore(p) {
			w.dispatch(normalizePath(p))
		}
		return nil
	})
}

func (w *Watcher) addDirsRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			w.logger.Warn("Skipping unreadable path", logfields.Path(p), logfields.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(p); err != nil {
			w.logger.Warn("Failed to watch directory", logfields.Path(p), logfields.Error(err))
		}
		return nil
	})
}

// skipDir reports directories never watched: hidden ones and node_modules.
func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules"
}

// shouldIgnore filters editor temp files and OS metadata.
func shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return true
	}
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".swx") {
		return true
	}
	if strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#") {
		return true
	}
	switch base {
	case "Thumbs.db", "4913":
		return true
	}
	return false
}

// normalizePath cleans p and folds it to Unicode NFC so decomposed names
// reported by some filesystems match configured patterns.
func normalizePath(p string) string {
	return norm.NFC.String(filepath.Clean(p))
}
