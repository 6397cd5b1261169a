package commands

import (
	"log/slog"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite existing configuration file"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Initializing configuration", logfields.Path(root.Config), slog.Bool("force", i.Force))
	written, err := config.Init(root.Config, i.Force)
	if err != nil {
		return err
	}
	p := newPrinter(g.out())
	for _, f := range written {
		p.println("wrote " + f)
	}
	return nil
}
