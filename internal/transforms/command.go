package transforms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ErrToolNotFound is returned when a configured collaborator binary is not on PATH.
var ErrToolNotFound = errors.New("tool not found")

// CommandRunner runs an external collaborator. stdout and stderr are returned
// even when err is non-nil so callers can parse diagnostics.
type CommandRunner interface {
	Run(ctx context.Context, dir string, argv []string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Logger *slog.Logger
}

func (r ExecRunner) Run(ctx context.Context, dir string, argv []string) ([]byte, []byte, error) {
	if len(argv) == 0 {
		return nil, nil, errors.New("empty command")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrToolNotFound, argv[0], err)
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // argv comes from the project configuration
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	logger.Debug("Running tool", "argv", argv, "dir", dir)

	err := cmd.Run()
	if s := strings.TrimSpace(stderr.String()); s != "" && err == nil {
		logger.Debug("tool stderr", "tool", argv[0], "output", s)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// expandArgs substitutes {key} placeholders in every argument.
func expandArgs(argv []string, vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

// combinedOutput joins both streams for error reporting; tools disagree on
// which one carries diagnostics.
func combinedOutput(stdout, stderr []byte) string {
	o, e := strings.TrimSpace(string(stdout)), strings.TrimSpace(string(stderr))
	switch {
	case o == "":
		return e
	case e == "":
		return o
	default:
		return o + "\n" + e
	}
}
