package stage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Writer confines a stage's output to its output directory and records every
// file produced. It skips rewriting files whose content is unchanged, so a
// re-run with identical inputs leaves the output tree untouched.
type Writer struct {
	stage Name
	root  string

	mu      sync.Mutex
	written map[string]struct{}
}

// NewWriter returns a Writer rooted at root.
func NewWriter(stage Name, root string) *Writer {
	return &Writer{stage: stage, root: filepath.Clean(root), written: make(map[string]struct{})}
}

// Root returns the output directory.
func (w *Writer) Root() string { return w.root }

// Resolve maps a path relative to the output root to an absolute path, failing
// with an IOFailure when the result would escape the root.
func (w *Writer) Resolve(rel string) (string, error) {
	p := rel
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.root, rel)
	}
	p = filepath.Clean(p)
	if !Within(w.root, p) {
		return "", IOFailure(w.stage, p, fmt.Errorf("write outside output directory %s", w.root))
	}
	return p, nil
}

// WriteFile writes data to rel under the output root.
func (w *Writer) WriteFile(rel string, data []byte) error {
	dst, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if existing, err := os.ReadFile(dst); err == nil && bytes.Equal(existing, data) {
		w.add(dst)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return IOFailure(w.stage, dst, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil { //nolint:gosec // build output is served publicly
		return IOFailure(w.stage, dst, err)
	}
	w.add(dst)
	return nil
}

// CopyFile copies src verbatim to rel under the output root.
func (w *Writer) CopyFile(src, rel string) error {
	f, err := os.Open(src)
	if err != nil {
		return IOFailure(w.stage, src, err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return IOFailure(w.stage, src, err)
	}
	return w.WriteFile(rel, data)
}

// Record registers a file an external tool produced. It must exist and lie
// inside the output root.
func (w *Writer) Record(path string) error {
	p, err := w.Resolve(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err != nil {
		return IOFailure(w.stage, p, err)
	}
	w.add(p)
	return nil
}

// Remove deletes a previously produced file under the output root. A missing
// file is not an error.
func (w *Writer) Remove(rel string) error {
	p, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return IOFailure(w.stage, p, err)
	}
	w.mu.Lock()
	delete(w.written, p)
	w.mu.Unlock()
	return nil
}

func (w *Writer) add(p string) {
	w.mu.Lock()
	w.written[p] = struct{}{}
	w.mu.Unlock()
}

// Outputs returns the recorded files in lexical order.
func (w *Writer) Outputs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.written))
	for p := range w.written {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Within reports whether path lies inside root (or is root).
func Within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
