package commands

import (
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Addr     string `help:"Dev server listen address (overrides server.address)"`
	NoInject bool   `name:"no-inject" help:"Do not inject the live-reload script into HTML pages"`
}

func (w *WatchCmd) Run(g *Global, root *CLI) error {
	cfg, logger, err := root.load(g)
	if err != nil {
		return err
	}
	if w.Addr != "" {
		cfg.Server.Address = w.Addr
	}
	if w.NoInject {
		inject := false
		cfg.Server.InjectScript = &inject
	}

	d, err := newDriver(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	p := newPrinter(g.out())
	if err := d.Watch(g.ctx()); err != nil {
		return err
	}
	logger.Info("Watch session ended", logfields.Status(string(d.State())))
	if runs := d.History(); len(runs) > 0 {
		p.println("recent runs:")
		p.historyTable(runs)
	}
	return nil
}
