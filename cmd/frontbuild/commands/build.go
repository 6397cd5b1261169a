package commands

import (
	"log/slog"

	"git.home.luguber.info/inful/frontbuild/internal/logfields"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Dist bool `help:"Also package the build root into a dated archive (overrides dist.enabled)"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, logger, err := root.load(g)
	if err != nil {
		return err
	}
	if b.Dist {
		cfg.Dist.Enabled = true
	}

	d, err := newDriver(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	logger.Info("Starting build",
		logfields.Path(cfg.SourceDir()),
		slog.Bool("dist", cfg.Dist.Enabled),
		logfields.Workers(cfg.Build.Workers))
	res, err := d.Build(g.ctx())
	newPrinter(g.out()).runSummary("build", res)
	return err
}
