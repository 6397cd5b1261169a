package transforms

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// Bundle runs the module bundler on the compiled entry point and requires both
// the bundle and its source map to exist afterwards.
type Bundle struct {
	Name stage.Name
	// IntermediateDir holds the compiler output the entry is resolved against.
	IntermediateDir string
	Entry           string
	Output          string
	Argv            []string
	Runner          CommandRunner
}

func (b Bundle) Transform(ctx context.Context, _ stage.Input, w *stage.Writer) error {
	entry := filepath.Join(b.IntermediateDir, filepath.FromSlash(b.Entry))
	if _, err := os.Stat(entry); err != nil {
		return stage.TransformFailure(b.Name, "bundle entry missing", []stage.Diagnostic{{
			File:    entry,
			Message: "entry point not produced by the compiler",
		}}, err)
	}
	out, err := w.Resolve(b.Output)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return stage.IOFailure(b.Name, out, err)
	}

	argv := expandArgs(b.Argv, map[string]string{"entry": entry, "out": out})
	stdout, stderr, err := b.Runner.Run(ctx, b.IntermediateDir, argv)
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			return stage.TransformFailure(b.Name, "bundler not available", nil, err)
		}
		output := combinedOutput(stdout, stderr)
		return stage.TransformFailure(b.Name, "bundle failed", ParseDiagnostics(output), fmt.Errorf("%w\n%s", err, output))
	}

	for _, p := range []string{out, out + ".map"} {
		if _, err := os.Stat(p); err != nil {
			return stage.TransformFailure(b.Name, "bundler did not produce "+filepath.Base(p), nil, err)
		}
		if err := w.Record(p); err != nil {
			return err
		}
	}
	return nil
}
