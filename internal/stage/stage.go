// Package stage defines a named build step: which source files it reads, where
// it may write, which stages must finish before it, and the transform that
// turns the one into the other.
package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// Name identifies a stage within a graph.
type Name string

func (n Name) String() string { return string(n) }

// Input is what a transform sees for one run.
type Input struct {
	// SourceRoot is the directory Paths were matched under.
	SourceRoot string
	// Paths are all matching input files, absolute and sorted.
	Paths []string
	// Changed lists the files whose modification triggered this run. It is
	// empty for full builds; transforms may use it as a hint but must still
	// produce output for every path in Paths.
	Changed []string
}

// Rel returns p relative to SourceRoot using forward slashes.
func (in Input) Rel(p string) string {
	rel, err := filepath.Rel(in.SourceRoot, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// Transform converts a stage's inputs into files written through w. It must be
// idempotent: identical inputs and configuration yield byte-identical output.
// Malformed input is reported with TransformFailure, unwritable output with
// IOFailure.
type Transform interface {
	Transform(ctx context.Context, in Input, w *Writer) error
}

// TransformFunc adapts a function to Transform.
type TransformFunc func(ctx context.Context, in Input, w *Writer) error

func (f TransformFunc) Transform(ctx context.Context, in Input, w *Writer) error {
	return f(ctx, in, w)
}

// Stage is immutable once registered with a graph.
type Stage struct {
	Name       Name
	SourceRoot string
	// Patterns select inputs under SourceRoot. Stages fed by another stage's
	// output (bundle) may leave it empty.
	Patterns  []string
	OutDir    string
	DependsOn []Name
	Transform Transform

	matcher *Matcher
}

// New validates and returns a stage.
func New(s Stage) (*Stage, error) {
	if s.Name == "" {
		return nil, ferrors.ValidationError("stage name is required").Build()
	}
	if s.Transform == nil {
		return nil, ferrors.ValidationError(fmt.Sprintf("stage %q has no transform", s.Name)).Build()
	}
	if s.OutDir == "" {
		return nil, ferrors.ValidationError(fmt.Sprintf("stage %q has no output directory", s.Name)).Build()
	}
	if len(s.Patterns) > 0 {
		m, err := NewMatcher(s.Patterns)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryValidation, fmt.Sprintf("stage %q", s.Name)).Build()
		}
		s.matcher = m
	}
	s.Patterns = slices.Clone(s.Patterns)
	s.DependsOn = slices.Clone(s.DependsOn)
	return &s, nil
}

// MustNew is New for statically known stages.
func MustNew(s Stage) *Stage {
	st, err := New(s)
	if err != nil {
		panic(err)
	}
	return st
}

// Matches reports whether an absolute path under SourceRoot is one of this stage's inputs.
func (s *Stage) Matches(path string) bool {
	if s.matcher == nil {
		return false
	}
	rel, err := filepath.Rel(s.SourceRoot, path)
	if err != nil || !filepath.IsLocal(rel) {
		return false
	}
	return s.matcher.Match(rel)
}

// Inputs lists the stage's current input files.
func (s *Stage) Inputs() ([]string, error) {
	if s.matcher == nil {
		return nil, nil
	}
	paths, err := s.matcher.Glob(s.SourceRoot)
	if err != nil {
		return nil, IOFailure(s.Name, s.SourceRoot, err)
	}
	return paths, nil
}

// Result describes one successful stage run.
type Result struct {
	Inputs  []string
	Outputs []string
}

// Run gathers inputs, ensures the output directory exists and invokes the
// transform. Errors are always classified: anything the transform returns
// unclassified is treated as a TransformFailure.
func (s *Stage) Run(ctx context.Context, changed []string) (Result, error) {
	inputs, err := s.Inputs()
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(s.OutDir, 0o750); err != nil {
		return Result{Inputs: inputs}, IOFailure(s.Name, s.OutDir, err)
	}

	w := NewWriter(s.Name, s.OutDir)
	in := Input{SourceRoot: s.SourceRoot, Paths: inputs, Changed: slices.Clone(changed)}
	if err := s.Transform.Transform(ctx, in, w); err != nil {
		if !ferrors.IsClassified(err) {
			err = TransformFailure(s.Name, "transform failed", nil, err)
		}
		return Result{Inputs: inputs, Outputs: w.Outputs()}, err
	}
	return Result{Inputs: inputs, Outputs: w.Outputs()}, nil
}
