package commands

import (
	"log/slog"
	"os"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/taskgraph"
)

// GraphCmd implements the 'graph' command.
type GraphCmd struct {
	Format string `short:"f" help:"Output format: text, mermaid, dot" default:"text" enum:"text,mermaid,dot"`
	Output string `short:"o" help:"Output file path (optional, prints to stdout if not specified)"`
}

// Run prints the graph of the configured project without running it.
func (cmd *GraphCmd) Run(g *Global, root *CLI) error {
	cfg, logger, err := root.load(g)
	if err != nil {
		return err
	}
	// Only the stage layout is needed.
	cfg.History.Path = ""
	cfg.Notify.NATSURL = ""

	d, err := newDriver(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	output, err := d.Graph().Visualize(taskgraph.VisualizationFormat(cmd.Format))
	if err != nil {
		return invalidFlag("--format", cmd.Format, err)
	}
	if cmd.Output != "" {
		if err := os.WriteFile(cmd.Output, []byte(output), 0o600); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write output file").
				WithContext("path", cmd.Output).Build()
		}
		logger.Info("Graph written", slog.String("file", cmd.Output), slog.String("format", cmd.Format))
		return nil
	}
	_, _ = g.out().Write([]byte(output))
	return nil
}

func invalidFlag(flag, value string, cause error) error {
	return ferrors.WrapError(cause, ferrors.CategoryValidation, "invalid "+flag).
		WithContext("value", value).Build()
}
