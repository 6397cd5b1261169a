package commands

import (
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int `short:"n" help:"Number of runs to show" default:"20"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, logger, err := root.load(g)
	if err != nil {
		return err
	}
	if cfg.History.Path == "" {
		return ferrors.ConfigError("run history is not enabled").
			WithContext("hint", "set history.path in "+root.Config).Build()
	}
	cfg.Notify.NATSURL = ""

	d, err := newDriver(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	runs := d.History()
	if h.Limit > 0 && len(runs) > h.Limit {
		runs = runs[:h.Limit]
	}
	newPrinter(g.out()).historyTable(runs)
	return nil
}
