package commands

import (
	"time"
)

// DistCmd implements the 'dist' command.
type DistCmd struct {
	Date string `help:"Archive date as YYYY-MM-DD (defaults to today)"`
}

func (c *DistCmd) Run(g *Global, root *CLI) error {
	cfg, logger, err := root.load(g)
	if err != nil {
		return err
	}
	date := time.Now()
	if c.Date != "" {
		date, err = time.ParseInLocation(time.DateOnly, c.Date, time.Local)
		if err != nil {
			return invalidFlag("--date", c.Date, err)
		}
	}

	d, err := newDriver(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	report, err := d.Dist(g.ctx(), date)
	if err != nil {
		return err
	}
	newPrinter(g.out()).distReport(report)
	return nil
}
