package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// Root is one output directory owned by the workspace.
type Root struct {
	Name string
	Path string
}

// Manager handles the output roots of one project.
type Manager struct {
	source   string
	roots    []Root
	manifest *Manifest
	logger   *slog.Logger
}

// NewManager returns a manager for roots. source is the project's source
// directory; Clean refuses to remove any root that contains it.
func NewManager(source string, roots ...Root) *Manager {
	return &Manager{
		source:   filepath.Clean(source),
		roots:    roots,
		manifest: NewManifest(),
		logger:   slog.Default(),
	}
}

// FromConfig returns a manager for the intermediate, build and dist roots of cfg.
func FromConfig(cfg *config.Config) *Manager {
	return NewManager(cfg.SourceDir(),
		Root{Name: "intermediate", Path: cfg.IntermediateDir()},
		Root{Name: "build", Path: cfg.BuildDir()},
		Root{Name: "dist", Path: cfg.DistDir()},
	)
}

// WithLogger sets the logger and returns m.
func (m *Manager) WithLogger(l *slog.Logger) *Manager {
	if l != nil {
		m.logger = l
	}
	return m
}

// Roots returns the managed output roots.
func (m *Manager) Roots() []Root { return append([]Root(nil), m.roots...) }

// Manifest returns the artifact manifest.
func (m *Manager) Manifest() *Manifest { return m.manifest }

// Clean removes every output root and resets the manifest. Missing roots are
// not an error.
func (m *Manager) Clean() error {
	for _, r := range m.roots {
		if err := m.checkRemovable(r); err != nil {
			return err
		}
	}
	for _, r := range m.roots {
		if err := os.RemoveAll(r.Path); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to clean output root").
				WithContext("root", r.Name).WithContext("path", r.Path).Build()
		}
		m.logger.Debug("Cleaned output root", slog.String("root", r.Name), logfields.Path(r.Path))
	}
	m.manifest.Reset()
	return nil
}

func (m *Manager) checkRemovable(r Root) error {
	p := filepath.Clean(r.Path)
	refuse := func(why string) error {
		return ferrors.ConfigError(fmt.Sprintf("refusing to clean %s root %q: %s", r.Name, r.Path, why)).
			WithContext("root", r.Name).WithContext("path", r.Path).Build()
	}
	switch {
	case r.Path == "":
		return refuse("path is empty")
	case p == "/" || p == "." || p == filepath.VolumeName(p)+string(filepath.Separator):
		return refuse("path is a filesystem or working-directory root")
	case m.source != "" && m.source != "." && stage.Within(p, m.source):
		return refuse("it contains the source directory")
	}
	if home, err := os.UserHomeDir(); err == nil && filepath.Clean(home) == p {
		return refuse("path is the home directory")
	}
	return nil
}

// Ensure creates every output root.
func (m *Manager) Ensure() error {
	for _, r := range m.roots {
		if err := os.MkdirAll(r.Path, 0o750); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create output root").
				WithContext("root", r.Name).WithContext("path", r.Path).Build()
		}
	}
	return nil
}
