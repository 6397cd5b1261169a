package transforms

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// TSConfigName is written into the intermediate root before every compile.
const TSConfigName = "tsconfig.json"

// Compile runs the typed-source compiler over all inputs. The generated
// tsconfig lists the inputs explicitly and points outDir at the stage's output
// directory, so the compiler never writes elsewhere. When the project
// tsconfig at Extends exists the generated one extends it.
type Compile struct {
	Name    stage.Name
	Options config.CompilerOptions
	Extends string
	Argv    []string
	Runner  CommandRunner
}

func (c Compile) Transform(ctx context.Context, in stage.Input, w *stage.Writer) error {
	if len(in.Paths) == 0 {
		return nil
	}
	extends := ""
	if c.Extends != "" {
		if _, err := os.Stat(c.Extends); err == nil {
			extends = c.Extends
		}
	}
	doc, err := config.RenderTSConfig(c.Options, extends, w.Root(), in.SourceRoot, in.Paths)
	if err != nil {
		return stage.TransformFailure(c.Name, "render tsconfig", nil, err)
	}
	if err := w.WriteFile(TSConfigName, doc); err != nil {
		return err
	}
	tsconfig, _ := w.Resolve(TSConfigName)

	argv := expandArgs(c.Argv, map[string]string{
		"tsconfig": tsconfig,
		"out":      w.Root(),
		"src":      in.SourceRoot,
	})
	stdout, stderr, err := c.Runner.Run(ctx, in.SourceRoot, argv)
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			return stage.TransformFailure(c.Name, "compiler not available", nil, err)
		}
		out := combinedOutput(stdout, stderr)
		return stage.TransformFailure(c.Name, "compile failed", ParseDiagnostics(out), fmt.Errorf("%w\n%s", err, out))
	}
	return recordTree(w, ".js", ".js.map", ".d.ts")
}

// recordTree registers every file under the writer root with one of the
// given suffixes.
func recordTree(w *stage.Writer, suffixes ...string) error {
	return filepath.WalkDir(w.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return stage.IOFailure("", path, err)
		}
		if d.IsDir() || !hasAnySuffix(path, suffixes) {
			return nil
		}
		return w.Record(path)
	})
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if len(s) >= len(suf) && s[len(s)-len(suf):] == suf {
			return true
		}
	}
	return false
}
