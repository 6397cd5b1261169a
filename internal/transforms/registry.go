// Package transforms implements the build stages of a front-end project:
// working copy, markup, stylesheets, typed-source compilation and bundling.
package transforms

import (
	"log/slog"
	"path/filepath"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/packaging"
	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

const (
	StageWorking stage.Name = "working"
	StageMarkup  stage.Name = "markup"
	StageStyles  stage.Name = "styles"
	StageCompile stage.Name = "compile"
	StageBundle  stage.Name = "bundle"
	StageDist    stage.Name = "dist"
)

// WorkingDir is the source subtree mirrored verbatim into the build root.
const WorkingDir = "working"

// Source categories, relative to the source root.
var (
	ScriptPatterns  = []string{"**/*.ts", "!**/node_modules/**", "!" + WorkingDir + "/**"}
	StylePatterns   = []string{"**/*.scss", "!**/node_modules/**", "!" + WorkingDir + "/**"}
	WorkingPatterns = []string{WorkingDir + "/**"}
	MarkupPatterns  = []string{
		"**/*.html", "**/*.htm", "**/*.md",
		"**/*.css", "**/*.ttf", "**/*.otf", "**/*.woff", "**/*.woff2",
		"**/*.svg", "**/*.png", "**/*.jpg", "**/*.jpeg", "**/*.gif", "**/*.ico",
		"!**/node_modules/**", "!" + WorkingDir + "/**",
	}
)

// Toolset supplies the collaborators the stages run.
type Toolset struct {
	Runner CommandRunner
	Logger *slog.Logger
	// Overrides replace the transform of a named stage. Tests use it to stand
	// in for the compiler and bundler.
	Overrides map[stage.Name]stage.Transform
}

func (t Toolset) pick(name stage.Name, def stage.Transform) stage.Transform {
	if tr, ok := t.Overrides[name]; ok {
		return tr
	}
	return def
}

// Stages builds the project's stages in registration order. The dist stage is
// only registered when packaging is enabled.
func Stages(cfg *config.Config, tools Toolset) ([]*stage.Stage, error) {
	if tools.Runner == nil {
		tools.Runner = ExecRunner{Logger: tools.Logger}
	}
	src := cfg.SourceDir()
	build := cfg.BuildDir()
	lib := cfg.IntermediateDir()

	defs := []stage.Stage{
		{
			Name:       StageWorking,
			SourceRoot: src,
			Patterns:   WorkingPatterns,
			OutDir:     filepath.Join(build, WorkingDir),
			Transform:  tools.pick(StageWorking, Working{Prefix: WorkingDir}),
		},
		{
			Name:       StageMarkup,
			SourceRoot: src,
			Patterns:   MarkupPatterns,
			OutDir:     build,
			Transform:  tools.pick(StageMarkup, NewMarkup(StageMarkup)),
		},
		{
			Name:       StageStyles,
			SourceRoot: src,
			Patterns:   StylePatterns,
			OutDir:     build,
			Transform: tools.pick(StageStyles, Styles{
				Name:   StageStyles,
				Output: cfg.Styles.Output,
				Argv:   cfg.Tools.Styles,
				Runner: tools.Runner,
			}),
		},
		{
			Name:       StageCompile,
			SourceRoot: src,
			Patterns:   ScriptPatterns,
			OutDir:     lib,
			Transform: tools.pick(StageCompile, Compile{
				Name:    StageCompile,
				Options: cfg.CompilerOptions,
				Extends: cfg.ProjectTSConfigPath(),
				Argv:    cfg.Tools.Compiler,
				Runner:  tools.Runner,
			}),
		},
		{
			Name:       StageBundle,
			SourceRoot: lib,
			OutDir:     build,
			DependsOn:  []stage.Name{StageCompile},
			Transform: tools.pick(StageBundle, Bundle{
				Name:            StageBundle,
				IntermediateDir: lib,
				Entry:           cfg.Bundle.Entry,
				Output:          cfg.Bundle.Output,
				Argv:            cfg.Tools.Bundler,
				Runner:          tools.Runner,
			}),
		},
	}
	if cfg.Dist.Enabled {
		defs = append(defs, stage.Stage{
			Name:       StageDist,
			SourceRoot: build,
			OutDir:     cfg.DistDir(),
			DependsOn:  []stage.Name{StageWorking, StageMarkup, StageStyles, StageBundle},
			Transform: tools.pick(StageDist, packaging.Transform{
				Name: StageDist,
				Options: packaging.Options{
					BuildRoot:   build,
					BudgetBytes: cfg.Dist.BudgetBytes,
					RepoDir:     cfg.BaseDir,
					Exclude:     []string{WorkingDir},
				},
				Logger: tools.Logger,
			}),
		})
	}

	stages := make([]*stage.Stage, 0, len(defs))
	for _, d := range defs {
		s, err := stage.New(d)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, nil
}

// Binding ties a source category to the stages re-run when it changes.
type Binding struct {
	Category string
	Patterns []string
	Targets  []stage.Name
}

// Bindings lists the watch categories. A typed-source change re-runs the
// bundle, which pulls in compile as its dependency.
func Bindings() []Binding {
	return []Binding{
		{Category: "scripts", Patterns: ScriptPatterns, Targets: []stage.Name{StageBundle}},
		{Category: "styles", Patterns: StylePatterns, Targets: []stage.Name{StageStyles}},
		{Category: "markup", Patterns: MarkupPatterns, Targets: []stage.Name{StageMarkup}},
		{Category: "working", Patterns: WorkingPatterns, Targets: []stage.Name{StageWorking}},
	}
}
