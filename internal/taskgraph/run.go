package taskgraph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// Request selects what a run executes.
type Request struct {
	// Targets restricts the run to these stages and their transitive
	// dependencies. Empty means the whole graph.
	Targets []stage.Name
	// Changed lists the source files that triggered the run. Each stage is
	// handed the subset its patterns match.
	Changed []string
	// Reason labels the run in logs and metrics ("build", "watch:styles").
	Reason string
}

type outcome struct {
	name     stage.Name
	result   stage.Result
	err      error
	duration time.Duration
}

// Execute runs the requested chain and blocks until every started stage has
// finished. Running transforms are never interrupted: cancelling ctx only
// prevents stages that have not started yet from starting.
//
// The returned error is a validation error for an unknown target, or the
// run's headline failure (Result.Err). The Result is non-nil whenever the run
// took place.
func (g *Graph) Execute(ctx context.Context, req Request) (*Result, error) {
	chain, err := g.Chain(req.Targets...)
	if err != nil {
		return nil, err
	}
	reason := req.Reason
	if reason == "" {
		reason = "build"
		if len(req.Targets) > 0 {
			reason = "rerun"
		}
	}

	run := RunInfo{
		ID:      uuid.NewString(),
		Seq:     g.seq.Add(1),
		Reason:  reason,
		Targets: slices.Clone(req.Targets),
		Order:   chain,
		Changed: slices.Clone(req.Changed),
		Start:   time.Now(),
	}
	res := &Result{
		RunID:   run.ID,
		Seq:     run.Seq,
		Reason:  reason,
		Targets: run.Targets,
		Changed: run.Changed,
		Order:   chain,
		Stages:  make(map[stage.Name]StageStatus, len(chain)),
		Start:   run.Start,
	}
	for _, n := range chain {
		res.Stages[n] = StageStatus{Status: StatusPending}
	}

	logger := g.logger.With(logfields.RunID(run.ID), logfields.RunSeq(run.Seq), logfields.Reason(reason))
	logger.Info("Run started", logfields.Targets(namesOf(chain)), logfields.Changed(len(req.Changed)), logfields.Workers(g.workers))
	g.observer.OnRunStart(run)

	e := &execution{g: g, run: run, res: res, logger: logger}
	e.schedule(ctx)
	e.skipUnstarted()

	res.End = time.Now()
	if res.Err == nil && e.halt == ReasonCanceled {
		res.Err = ferrors.RuntimeError("run canceled before all stages started").WithCause(context.Cause(ctx)).Build()
	}
	if res.Err != nil {
		logger.Error("Run failed", logfields.Error(res.Err), logfields.Elapsed(res.Start))
	} else {
		logger.Info("Run completed", logfields.Outputs(len(res.Outputs())), logfields.Elapsed(res.Start))
	}
	g.observer.OnRunComplete(res)
	return res, res.Err
}

// execution is the state of one run. It is confined to the goroutine that
// called Execute; stage goroutines only send outcomes back.
type execution struct {
	g      *Graph
	run    RunInfo
	res    *Result
	logger *slog.Logger

	remaining map[stage.Name]int
	ready     []stage.Name
	inflight  int
	// halt is set once no further stage may start.
	halt string
}

func (e *execution) schedule(ctx context.Context) {
	inChain := make(map[stage.Name]bool, len(e.run.Order))
	for _, n := range e.run.Order {
		inChain[n] = true
	}
	e.remaining = make(map[stage.Name]int, len(e.run.Order))
	for _, n := range e.run.Order {
		e.remaining[n] = len(e.g.stage(n).DependsOn)
		if e.remaining[n] == 0 {
			e.ready = append(e.ready, n)
		}
	}
	e.g.sortByRegistration(e.ready)

	results := make(chan outcome, len(e.run.Order))
	for e.step(ctx, results, inChain) {
	}
}

// step makes one scheduling decision. It reports false once nothing is
// running and no further stage may start.
func (e *execution) step(ctx context.Context, results chan outcome, inChain map[stage.Name]bool) bool {
	if e.halt == "" && ctx.Err() != nil {
		e.halt = ReasonCanceled
	}
	if e.halt == "" && len(e.ready) > 0 {
		select {
		case e.g.sem <- struct{}{}:
			// Outcomes already waiting are handled before the slot is used,
			// so a pending failure halts the run instead of racing the start.
			e.drain(results, inChain)
			if e.halt != "" {
				<-e.g.sem
				return true
			}
			e.start(ctx, e.ready[0], results)
			e.ready = e.ready[1:]
		case o := <-results:
			e.finish(o, inChain)
		case <-ctx.Done():
			e.halt = ReasonCanceled
		}
		return true
	}
	if e.inflight == 0 {
		return false
	}
	e.finish(<-results, inChain)
	return true
}

func (e *execution) drain(results <-chan outcome, inChain map[stage.Name]bool) {
	for {
		select {
		case o := <-results:
			e.finish(o, inChain)
		default:
			return
		}
	}
}

// start launches a stage in the worker slot the caller acquired. The slot is
// released by finish, after the outcome has been handled, so a failure is
// always seen before its slot can be reused.
func (e *execution) start(ctx context.Context, name stage.Name, results chan<- outcome) {
	s := e.g.stage(name)
	e.inflight++
	e.res.Stages[name] = StageStatus{Status: StatusRunning}
	e.logger.Debug("Stage started", logfields.Stage(string(name)))
	e.g.observer.OnStageStart(e.run, name)

	changed := changedFor(s, e.run.Changed)
	go func() {
		t0 := time.Now()
		o := outcome{name: name}
		o.result, o.err = runSafely(context.WithoutCancel(ctx), s, changed)
		o.duration = time.Since(t0)
		results <- o
	}()
}

func runSafely(ctx context.Context, s *stage.Stage, changed []string) (res stage.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ferrors.InternalError(fmt.Sprintf("stage %s panicked: %v", s.Name, r)).
				WithContext("stage", string(s.Name)).Build()
		}
	}()
	return s.Run(ctx, changed)
}

func (e *execution) finish(o outcome, inChain map[stage.Name]bool) {
	defer func() { <-e.g.sem }()
	e.inflight--
	st := StageStatus{
		Duration: o.duration,
		Inputs:   o.result.Inputs,
		Outputs:  o.result.Outputs,
	}
	log := e.logger.With(logfields.Stage(string(o.name)))

	if o.err == nil {
		st.Status = StatusSucceeded
		for _, next := range e.g.dependents[o.name] {
			if !inChain[next] {
				continue
			}
			e.remaining[next]--
			if e.remaining[next] == 0 {
				e.ready = append(e.ready, next)
				e.g.sortByRegistration(e.ready)
			}
		}
		log.Info("Stage completed", logfields.Outputs(len(st.Outputs)), logfields.DurationMS(float64(o.duration.Microseconds())/1000))
	} else {
		se := newStageError(o.name, o.err)
		st.Status = StatusFailed
		st.Err = se
		e.res.Failures = append(e.res.Failures, se)
		if e.res.Err == nil {
			e.res.Err = se
		}
		if e.halt == "" {
			e.halt = ReasonHalted
		}
		attrs := []any{logfields.Error(o.err), slog.String("kind", string(se.Kind))}
		for _, d := range se.Diagnostics() {
			log.Error("Diagnostic", slog.String("diagnostic", d.String()))
		}
		log.Error("Stage failed", attrs...)
	}

	e.res.Stages[o.name] = st
	e.g.observer.OnStageComplete(e.run, o.name, st)
}

// skipUnstarted marks every stage that never started. Stages downstream of a
// failure are skipped as upstream; the rest carry the halt reason.
func (e *execution) skipUnstarted() {
	for _, n := range e.run.Order {
		if e.res.Stages[n].Status != StatusPending {
			continue
		}
		st := StageStatus{Status: StatusSkipped, Reason: e.halt}
		for _, dep := range e.g.stage(n).DependsOn {
			ds := e.res.Stages[dep]
			if ds.Status == StatusFailed || (ds.Status == StatusSkipped && ds.Reason == ReasonUpstream) {
				st.Reason = ReasonUpstream
				st.Err = upstreamError(n, dep)
				break
			}
		}
		if st.Reason == "" {
			st.Reason = ReasonHalted
		}
		e.res.Stages[n] = st
		e.logger.Warn("Stage skipped", logfields.Stage(string(n)), slog.String("skip_reason", st.Reason))
		e.g.observer.OnStageComplete(e.run, n, st)
	}
}

// changedFor returns the changed paths that are inputs of s.
func changedFor(s *stage.Stage, changed []string) []string {
	var out []string
	for _, p := range changed {
		if s.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}

func namesOf(names []stage.Name) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
