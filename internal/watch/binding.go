// Package watch turns filesystem change events into coalesced reruns.
//
// A Binding owns one set of source patterns and the function that reruns its
// chain. Events matching the patterns are collected while a debounce window
// stays open; when the window closes the binding runs once with the union of
// the changed paths. Events arriving while a run is in flight are kept, not
// dropped, and trigger exactly one follow-up run once the current one ends.
// A Watcher feeds bindings from fsnotify.
package watch

import (
	"context"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/metrics"
	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// DefaultDebounce is used when a binding is configured without a window.
const DefaultDebounce = 100 * time.Millisecond

// Trigger describes one coalesced rerun.
type Trigger struct {
	Binding string
	// Paths is the sorted union of changed paths collected for this run.
	Paths []string
	// Events counts the notifications folded into this run.
	Events int
	First  time.Time
	Last   time.Time
	// Cause is what released the run: quiet, max_delay or after_running.
	Cause string
}

// RunFunc reruns the bound chain.
type RunFunc func(ctx context.Context, t Trigger) error

// BindingConfig configures a Binding.
type BindingConfig struct {
	Name     string
	Root     string
	Patterns []string
	Debounce time.Duration
	// MaxDelay caps how long a continuous stream of events can postpone a run.
	// Zero disables the cap.
	MaxDelay time.Duration
	Run      RunFunc
	// QueueSize bounds the event channel. Senders block when it is full.
	QueueSize int
	Logger    *slog.Logger
	Recorder  metrics.Recorder
}

// Binding coalesces change events for one pattern set into reruns. At most
// one run is in flight and at most one is pending at any time.
type Binding struct {
	cfg     BindingConfig
	matcher *stage.Matcher
	events  chan string

	readyOnce sync.Once
	ready     chan struct{}
	done      chan struct{}
	doneOnce  sync.Once

	runs   atomic.Int64
	failed atomic.Int64
}

// NewBinding validates cfg and returns a binding. Call Run to start it.
func NewBinding(cfg BindingConfig) (*Binding, error) {
	if cfg.Name == "" {
		return nil, ferrors.ValidationError("binding name is required").Build()
	}
	if cfg.Run == nil {
		return nil, ferrors.ValidationError("binding " + cfg.Name + " has no run function").Build()
	}
	m, err := stage.NewMatcher(cfg.Patterns)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "binding "+cfg.Name).Build()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.MaxDelay < 0 {
		cfg.MaxDelay = 0
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NoopRecorder{}
	}
	cfg.Logger = cfg.Logger.With(logfields.Binding(cfg.Name))
	cfg.Root = filepath.Clean(cfg.Root)
	return &Binding{
		cfg:     cfg,
		matcher: m,
		events:  make(chan string, cfg.QueueSize),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Name returns the binding name.
func (b *Binding) Name() string { return b.cfg.Name }

// Ready is closed once Run is receiving events.
func (b *Binding) Ready() <-chan struct{} { return b.ready }

// Runs returns the number of reruns started so far.
func (b *Binding) Runs() int64 { return b.runs.Load() }

// Failures returns the number of reruns that returned an error.
func (b *Binding) Failures() int64 { return b.failed.Load() }

// Matches reports whether an absolute path under Root belongs to this binding.
func (b *Binding) Matches(path string) bool {
	rel, err := filepath.Rel(b.cfg.Root, path)
	if err != nil || !filepath.IsLocal(rel) {
		return false
	}
	return b.matcher.Match(rel)
}

// Notify queues a changed path. It reports false when the path does not
// match or the binding has stopped. It blocks while the queue is full.
func (b *Binding) Notify(path string) bool {
	if !b.Matches(path) {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.events <- path:
		return true
	case <-b.done:
		return false
	}
}

// window accumulates events until the next run starts.
type window struct {
	paths  map[string]struct{}
	events int
	first  time.Time
	last   time.Time
}

func (w *window) add(p string, now time.Time) {
	if w.paths == nil {
		w.paths = make(map[string]struct{})
		w.first = now
	}
	w.paths[p] = struct{}{}
	w.events++
	w.last = now
}

func (w *window) empty() bool { return w.events == 0 }

func (w *window) take(name, cause string) Trigger {
	t := Trigger{
		Binding: name,
		Paths:   slices.Sorted(maps.Keys(w.paths)),
		Events:  w.events,
		First:   w.first,
		Last:    w.last,
		Cause:   cause,
	}
	*w = window{}
	return t
}

// Run processes events until ctx is done. A run in flight when ctx ends is
// waited for; pending events are discarded.
func (b *Binding) Run(ctx context.Context) error {
	defer b.doneOnce.Do(func() { close(b.done) })

	quiet := newStoppedTimer()
	maxT := newStoppedTimer()
	defer quiet.Stop()
	defer maxT.Stop()

	var (
		pending  window
		running  bool
		finished = make(chan error, 1)
		quietC   <-chan time.Time
		maxC     <-chan time.Time
	)

	start := func(cause string) {
		quietC, maxC = nil, nil
		t := pending.take(b.cfg.Name, cause)
		running = true
		b.runs.Add(1)
		b.cfg.Recorder.AddCoalescedEvents(b.cfg.Name, t.Events-1)
		b.cfg.Logger.Info("Change detected; rerunning",
			logfields.Changed(len(t.Paths)),
			slog.Int("events", t.Events),
			slog.String("cause", cause))
		go func() {
			finished <- b.runSafely(ctx, t)
		}()
	}

	b.readyOnce.Do(func() { close(b.ready) })
	for {
		select {
		case <-ctx.Done():
			if running {
				<-finished
			}
			return nil

		case p := <-b.events:
			first := pending.empty()
			pending.add(p, time.Now())
			if running {
				// Picked up by the follow-up run.
				continue
			}
			resetTimer(quiet, b.cfg.Debounce)
			quietC = quiet.C
			if first && b.cfg.MaxDelay > 0 {
				resetTimer(maxT, b.cfg.MaxDelay)
				maxC = maxT.C
			}

		case <-quietC:
			quietC = nil
			if !running && !pending.empty() {
				start("quiet")
			}

		case <-maxC:
			maxC = nil
			if !running && !pending.empty() {
				start("max_delay")
			}

		case err := <-finished:
			running = false
			if err != nil {
				b.failed.Add(1)
				b.cfg.Logger.Warn("Rerun failed; waiting for the next change", logfields.Error(err))
			}
			if !pending.empty() && ctx.Err() == nil {
				start("after_running")
			}
		}
	}
}

func (b *Binding) runSafely(ctx context.Context, t Trigger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ferrors.InternalError("rerun panicked").WithContext("panic", r).Build()
		}
	}()
	return b.cfg.Run(ctx, t)
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

func resetTimer(t *time.Timer, after time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(after)
}
