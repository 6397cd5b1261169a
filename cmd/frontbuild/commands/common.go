package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/driver"
)

// Global carries process-wide state shared by every subcommand.
type Global struct {
	// Context is canceled on SIGINT/SIGTERM.
	Context context.Context
	// Logger overrides the logger built from the configuration.
	Logger *slog.Logger
	// Out receives run summaries and command output. Defaults to stdout.
	Out io.Writer
}

func (g *Global) ctx() context.Context {
	if g == nil || g.Context == nil {
		return context.Background()
	}
	return g.Context
}

func (g *Global) out() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"frontbuild.yaml" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" help:"Clean the output roots and run every stage once"`
	Watch   WatchCmd   `cmd:"" help:"Build, then serve the build root and rebuild on source changes"`
	Dist    DistCmd    `cmd:"" help:"Package the existing build root into a dated archive"`
	Init    InitCmd    `cmd:"" help:"Write a default configuration and tsconfig.json"`
	Graph   GraphCmd   `cmd:"" help:"Print the task graph (text, mermaid, dot)"`
	History HistoryCmd `cmd:"" help:"Show recent runs from the run history"`
}

// AfterApply runs after flag parsing; it installs a bootstrap logger used
// until the configuration has been read.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// load reads the configuration and returns it together with the logger the
// session should use.
func (c *CLI) load(g *Global) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, nil, err
	}
	logger := g.Logger
	if logger == nil {
		logger = config.NewLogger(os.Stderr, cfg.Logging, c.Verbose)
		slog.SetDefault(logger)
	}
	return cfg, logger, nil
}

func newDriver(cfg *config.Config, logger *slog.Logger) (*driver.Driver, error) {
	return driver.New(driver.Options{Config: cfg, Logger: logger})
}
