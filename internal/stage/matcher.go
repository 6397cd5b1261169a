package stage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/moby/patternmatcher"
)

// Matcher selects files by .dockerignore-style patterns: "**" spans
// directories, "*" stays within one, and a leading "!" excludes what earlier
// patterns included. Paths are matched relative to a root.
type Matcher struct {
	patterns []string

	mu sync.Mutex // patternmatcher compiles lazily and is not safe for concurrent use
	pm *patternmatcher.PatternMatcher
}

// NewMatcher compiles patterns. A pattern list without any inclusion matches nothing.
func NewMatcher(patterns []string) (*Matcher, error) {
	pm, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern set %v: %w", patterns, err)
	}
	return &Matcher{patterns: slices.Clone(patterns), pm: pm}, nil
}

// MustMatcher is NewMatcher for static pattern sets.
func MustMatcher(patterns ...string) *Matcher {
	m, err := NewMatcher(patterns)
	if err != nil {
		panic(err)
	}
	return m
}

// Patterns returns the source patterns.
func (m *Matcher) Patterns() []string { return slices.Clone(m.patterns) }

// Match reports whether the slash- or OS-separated relative path is selected.
func (m *Matcher) Match(rel string) bool {
	if m == nil || rel == "" || rel == "." {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, err := m.pm.MatchesOrParentMatches(filepath.FromSlash(rel))
	return err == nil && ok
}

// Glob walks root and returns the absolute paths of matching regular files in
// lexical order. A missing root yields no files.
func (m *Matcher) Glob(root string) ([]string, error) {
	if m == nil {
		return nil, nil
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if m.Match(rel) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// WalkDir is lexical per directory; sorting makes the whole list lexical.
	slices.Sort(out)
	return out, nil
}
