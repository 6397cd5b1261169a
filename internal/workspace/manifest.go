package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// Entry describes one output artifact.
type Entry struct {
	Stage stage.Name `json:"stage"`
	// InputsHash covers the paths and contents of every input of the stage
	// run that wrote the artifact.
	InputsHash string `json:"inputs_hash"`
	Hash       string `json:"hash"`
	RunSeq     uint64 `json:"run_seq"`
}

// Manifest maps absolute output paths to the entry that produced them. It is
// safe for concurrent use.
type Manifest struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{entries: make(map[string]Entry)}
}

// Record stores entries for the outputs of one stage run and returns the
// outputs whose content differs from what was recorded before.
func (m *Manifest) Record(name stage.Name, seq uint64, inputs, outputs []string) ([]string, error) {
	inputsHash, err := HashFiles(inputs)
	if err != nil {
		return nil, err
	}
	next := make(map[string]Entry, len(outputs))
	for _, p := range outputs {
		h, err := HashFile(p)
		if err != nil {
			return nil, err
		}
		next[p] = Entry{Stage: name, InputsHash: inputsHash, Hash: h, RunSeq: seq}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var changed []string
	for p, e := range next {
		if prev, ok := m.entries[p]; !ok || prev.Hash != e.Hash {
			changed = append(changed, p)
		}
		m.entries[p] = e
	}
	slices.Sort(changed)
	return changed, nil
}

// Lookup returns the entry for an output path.
func (m *Manifest) Lookup(path string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[path]
	return e, ok
}

// Snapshot returns a copy of all entries.
func (m *Manifest) Snapshot() map[string]Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.entries)
}

// Len returns the number of recorded artifacts.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Reset forgets every entry.
func (m *Manifest) Reset() {
	m.mu.Lock()
	m.entries = make(map[string]Entry)
	m.mu.Unlock()
}

// HashFile returns the hex SHA-256 of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFiles hashes paths and contents of files in the given order.
func HashFiles(paths []string) (string, error) {
	h := sha256.New()
	for _, p := range paths {
		fh, err := HashFile(p)
		if err != nil {
			return "", err
		}
		_, _ = io.WriteString(h, p+"\x00"+fh+"\n")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TreeHash hashes every regular file under root by relative path and
// content. Two byte-identical trees have the same hash.
func TreeHash(root string) (string, error) {
	var rels []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rels = append(rels, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	slices.Sort(rels)

	h := sha256.New()
	for _, rel := range rels {
		fh, err := HashFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		_, _ = io.WriteString(h, rel+"\x00"+fh+"\n")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
