package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/frontbuild/cmd/frontbuild/commands"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("frontbuild"),
		kong.Description("Incremental build orchestrator for front-end projects."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := parser.Run(&commands.Global{Context: ctx, Out: os.Stdout}, cli)
	if err != nil {
		cancel()
		ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
	}
}
