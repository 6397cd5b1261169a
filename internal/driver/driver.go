// Package driver sequences a frontbuild session: clean the output roots, run
// the full task graph, then either stop (one-shot) or keep watching the source
// tree, rerunning the affected chains and reloading connected browsers.
//
// A session moves through Idle, Cleaning, Building, then Watching or Done,
// and ends in Terminated.
package driver

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/devserver"
	"git.home.luguber.info/inful/frontbuild/internal/eventstore"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/metrics"
	"git.home.luguber.info/inful/frontbuild/internal/notify"
	"git.home.luguber.info/inful/frontbuild/internal/taskgraph"
	"git.home.luguber.info/inful/frontbuild/internal/transforms"
	"git.home.luguber.info/inful/frontbuild/internal/workspace"
)

// State is a driver lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateCleaning   State = "cleaning"
	StateBuilding   State = "building"
	StateWatching   State = "watching"
	StateDone       State = "done"
	StateTerminated State = "terminated"
)

// Options configures a Driver.
type Options struct {
	Config *config.Config
	// Tools supplies the command runner and per-stage overrides.
	Tools  transforms.Toolset
	Logger *slog.Logger
	// Registry receives the Prometheus collectors. When nil a registry is
	// created if metrics are enabled in Config.
	Registry *prom.Registry
	// Observers are notified of every run in addition to the built-in ones.
	Observers []taskgraph.Observer
}

// Driver owns one project's task graph and the services around it.
type Driver struct {
	cfg       *config.Config
	logger    *slog.Logger
	graph     *taskgraph.Graph
	workspace *workspace.Manager

	registry *prom.Registry
	recorder metrics.Recorder

	history    *eventstore.SQLiteStore
	projection *eventstore.RunHistoryProjection
	notifier   *notify.Notifier

	hub *devserver.Hub

	// runMu lets binding reruns proceed concurrently while a scheduled full
	// rebuild runs alone.
	runMu sync.RWMutex

	stateMu sync.Mutex
	state   State
	trail   []State

	ready     chan struct{}
	readyOnce sync.Once
}

// New assembles the stages, observers and optional services described by
// opts.Config.
func New(opts Options) (*Driver, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tools := opts.Tools
	if tools.Logger == nil {
		tools.Logger = logger
	}

	d := &Driver{
		cfg:       cfg,
		logger:    logger,
		workspace: workspace.FromConfig(cfg).WithLogger(logger),
		registry:  opts.Registry,
		recorder:  metrics.NoopRecorder{},
		state:     StateIdle,
		trail:     []State{StateIdle},
		ready:     make(chan struct{}),
	}
	if d.registry == nil && cfg.Metrics.Enabled {
		d.registry = metrics.NewRegistry()
	}
	if d.registry != nil {
		d.recorder = metrics.NewPrometheusRecorder(d.registry)
	}
	d.hub = devserver.NewHub(d.recorder, logger)

	observers := taskgraph.Observers{
		taskgraph.RecorderObserver{Recorder: d.recorder},
		workspace.ManifestObserver{Manifest: d.workspace.Manifest(), Logger: logger},
	}
	if err := d.openHistory(); err != nil {
		return nil, err
	}
	if d.history != nil {
		observers = append(observers, eventstore.NewRecorder(d.history, d.projection, logger))
	}
	if cfg.Notify.NATSURL != "" {
		n, err := notify.Connect(cfg.Notify.NATSURL, cfg.Notify.Subject, logger)
		if err != nil {
			logger.Warn("Run notifications disabled", logfields.Error(err))
		} else {
			d.notifier = n
			observers = append(observers, n)
		}
	}
	observers = append(observers, opts.Observers...)

	stages, err := transforms.Stages(cfg, tools)
	if err != nil {
		d.Close()
		return nil, err
	}
	g, err := taskgraph.New(stages,
		taskgraph.WithWorkers(cfg.Build.Workers),
		taskgraph.WithObserver(observers),
		taskgraph.WithLogger(logger))
	if err != nil {
		d.Close()
		return nil, err
	}
	d.graph = g
	return d, nil
}

func (d *Driver) openHistory() error {
	if d.cfg.History.Path == "" {
		return nil
	}
	path := d.cfg.Resolve(d.cfg.History.Path)
	store, err := eventstore.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	d.history = store
	d.projection = eventstore.NewRunHistoryProjection(store, 100)
	ctx, cancel := context.WithTimeout(context.Background(), historyLoadTimeout)
	defer cancel()
	if err := d.projection.Rebuild(ctx); err != nil {
		d.logger.Warn("Failed to load run history", logfields.Error(err))
	}
	return nil
}

// Close releases the run history and the notification connection.
func (d *Driver) Close() {
	if d.notifier != nil {
		d.notifier.Close()
		d.notifier = nil
	}
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			d.logger.Warn("Failed to close run history", logfields.Error(err))
		}
		d.history = nil
	}
}

// Graph returns the task graph.
func (d *Driver) Graph() *taskgraph.Graph { return d.graph }

// Workspace returns the output root manager.
func (d *Driver) Workspace() *workspace.Manager { return d.workspace }

// Hub returns the reload hub used in watch mode.
func (d *Driver) Hub() *devserver.Hub { return d.hub }

// History returns completed runs, newest first, when run history is enabled.
func (d *Driver) History() []eventstore.RunSummary {
	if d.projection == nil {
		return nil
	}
	return d.projection.History()
}

// MetricsHandler returns the /metrics handler, or nil when metrics are off.
func (d *Driver) MetricsHandler() http.Handler {
	if d.registry == nil {
		return nil
	}
	return metrics.HTTPHandler(d.registry)
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state
}

// Trail returns every state entered so far, starting with Idle.
func (d *Driver) Trail() []State {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return slices.Clone(d.trail)
}

// Ready is closed once a watch session is observing the source tree.
func (d *Driver) Ready() <-chan struct{} { return d.ready }

func (d *Driver) transition(to State) {
	d.stateMu.Lock()
	from := d.state
	d.state = to
	d.trail = append(d.trail, to)
	d.stateMu.Unlock()
	d.logger.Debug("State changed", slog.String("from", string(from)), slog.String("to", string(to)))
}
