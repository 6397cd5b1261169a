package driver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/frontbuild/internal/devserver"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/packaging"
	"git.home.luguber.info/inful/frontbuild/internal/stage"
	"git.home.luguber.info/inful/frontbuild/internal/taskgraph"
	"git.home.luguber.info/inful/frontbuild/internal/transforms"
	"git.home.luguber.info/inful/frontbuild/internal/watch"
	"git.home.luguber.info/inful/frontbuild/internal/workspace"
)

const (
	historyLoadTimeout = 5 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// Build cleans the output roots and runs the whole graph once. The returned
// error is the first stage failure, if any.
func (d *Driver) Build(ctx context.Context) (*taskgraph.Result, error) {
	defer d.transition(StateTerminated)

	res, err := d.initialBuild(ctx)
	if err != nil {
		return res, err
	}
	d.transition(StateDone)
	return res, nil
}

func (d *Driver) initialBuild(ctx context.Context) (*taskgraph.Result, error) {
	d.transition(StateCleaning)
	if err := d.workspace.Clean(); err != nil {
		return nil, err
	}
	if err := d.workspace.Ensure(); err != nil {
		return nil, err
	}
	d.transition(StateBuilding)
	return d.graph.Execute(ctx, taskgraph.Request{Reason: "build"})
}

// Dist packages the existing build root without rebuilding.
func (d *Driver) Dist(ctx context.Context, date time.Time) (*packaging.Report, error) {
	report, err := packaging.Package(ctx, packaging.Options{
		BuildRoot:   d.cfg.BuildDir(),
		DistDir:     d.cfg.DistDir(),
		Date:        date,
		BudgetBytes: d.cfg.Dist.BudgetBytes,
		RepoDir:     d.cfg.BaseDir,
		Exclude:     []string{transforms.WorkingDir},
	})
	if err != nil {
		return nil, err
	}
	packaging.LogReport(d.logger, report)
	return report, nil
}

// Watch builds once, then serves the build root and reruns affected chains on
// source changes until ctx is canceled. A failing initial build is logged and
// the session keeps watching. Watch returns nil on cancellation.
func (d *Driver) Watch(ctx context.Context) error {
	defer d.transition(StateTerminated)

	if res, err := d.initialBuild(ctx); err != nil {
		if res == nil {
			return err
		}
		d.logger.Error("Initial build failed; watching for fixes", logfields.Error(err))
	}
	if ctx.Err() != nil {
		return nil
	}

	srv := devserver.New(devserver.Options{
		Addr:         d.cfg.Server.Address,
		Root:         d.cfg.BuildDir(),
		InjectScript: d.cfg.Server.ShouldInject(),
		Metrics:      d.MetricsHandler(),
		Logger:       d.logger,
	}, d.hub)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(sctx); err != nil {
			d.logger.Warn("Dev server shutdown", logfields.Error(err))
		}
	}()

	bindings, err := d.bindings()
	if err != nil {
		return err
	}
	w, err := watch.NewWatcher(d.cfg.SourceDir(), d.logger, bindings...)
	if err != nil {
		return err
	}

	if every := d.cfg.Watch.FullRebuildInterval.Std(); every > 0 {
		stop, err := d.scheduleFullRebuild(ctx, every)
		if err != nil {
			return err
		}
		defer stop()
	}

	d.transition(StateWatching)
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	select {
	case <-w.Ready():
		d.readyOnce.Do(func() { close(d.ready) })
		d.logger.Info("Watching source tree", logfields.Path(d.cfg.SourceDir()), logfields.Addr("http://"+srv.Addr()))
		return <-errc
	case err := <-errc:
		return err
	}
}

// bindings creates one coalescing binding per source category.
func (d *Driver) bindings() ([]*watch.Binding, error) {
	var out []*watch.Binding
	for _, bind := range transforms.Bindings() {
		b, err := watch.NewBinding(watch.BindingConfig{
			Name:     bind.Category,
			Root:     d.cfg.SourceDir(),
			Patterns: bind.Patterns,
			Debounce: d.cfg.Watch.Debounce.Std(),
			MaxDelay: d.cfg.Watch.MaxDelay.Std(),
			Run:      d.rerunFunc(bind.Targets),
			Logger:   d.logger,
			Recorder: d.recorder,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// rerunFunc reruns targets for a coalesced trigger and reloads browsers only
// when the rerun succeeded.
func (d *Driver) rerunFunc(targets []stage.Name) watch.RunFunc {
	return func(ctx context.Context, t watch.Trigger) error {
		d.runMu.RLock()
		res, err := d.graph.Execute(ctx, taskgraph.Request{
			Targets: targets,
			Changed: t.Paths,
			Reason:  "watch:" + t.Binding,
		})
		d.runMu.RUnlock()
		if err != nil {
			if res != nil {
				d.logger.Warn("Rerun failed; serving last good build", logfields.Binding(t.Binding), logfields.RunID(res.RunID))
			}
			return err
		}
		n := d.hub.BroadcastReload()
		d.logger.Info("Reload sent", logfields.Binding(t.Binding), logfields.Clients(n), logfields.Elapsed(t.First))
		return nil
	}
}

// scheduleFullRebuild runs the whole graph every interval. Browsers reload
// only when the build tree actually changed.
func (d *Driver) scheduleFullRebuild(ctx context.Context, every time.Duration) (func(), error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to create scheduler").Build()
	}
	_, err = s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() { d.fullRebuild(ctx) }),
		gocron.WithName("full-rebuild"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "failed to schedule full rebuild").
			WithContext("interval", every.String()).Build()
	}
	s.Start()
	d.logger.Info("Periodic full rebuild scheduled", slog.Duration("interval", every))
	return func() {
		if err := s.Shutdown(); err != nil {
			d.logger.Warn("Scheduler shutdown", logfields.Error(err))
		}
	}, nil
}

func (d *Driver) fullRebuild(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()

	before, _ := workspace.TreeHash(d.cfg.BuildDir())
	if _, err := d.graph.Execute(ctx, taskgraph.Request{Reason: "scheduled"}); err != nil {
		if !errors.Is(err, context.Canceled) {
			d.logger.Warn("Scheduled rebuild failed", logfields.Error(err))
		}
		return
	}
	after, err := workspace.TreeHash(d.cfg.BuildDir())
	if err == nil && after != before {
		d.hub.BroadcastReload()
	}
}
