package taskgraph

import (
	"time"

	"git.home.luguber.info/inful/frontbuild/internal/metrics"
	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// RunInfo identifies a run to observers.
type RunInfo struct {
	ID      string
	Seq     uint64
	Reason  string
	Targets []stage.Name
	Order   []stage.Name
	Changed []string
	Start   time.Time
}

// Observer receives callbacks around run and stage execution. Callbacks for
// one run are delivered sequentially; callbacks from concurrent runs may
// interleave, so implementations must be safe for concurrent use.
type Observer interface {
	OnRunStart(run RunInfo)
	OnStageStart(run RunInfo, name stage.Name)
	// OnStageComplete is called once per stage in the chain, including
	// stages that were skipped.
	OnStageComplete(run RunInfo, name stage.Name, status StageStatus)
	OnRunComplete(res *Result)
}

// NoopObserver is a no-op implementation.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(RunInfo)                               {}
func (NoopObserver) OnStageStart(RunInfo, stage.Name)                 {}
func (NoopObserver) OnStageComplete(RunInfo, stage.Name, StageStatus) {}
func (NoopObserver) OnRunComplete(*Result)                            {}

// Observers fans every callback out to each member in order.
type Observers []Observer

func (o Observers) OnRunStart(run RunInfo) {
	for _, ob := range o {
		ob.OnRunStart(run)
	}
}

func (o Observers) OnStageStart(run RunInfo, name stage.Name) {
	for _, ob := range o {
		ob.OnStageStart(run, name)
	}
}

func (o Observers) OnStageComplete(run RunInfo, name stage.Name, status StageStatus) {
	for _, ob := range o {
		ob.OnStageComplete(run, name, status)
	}
}

func (o Observers) OnRunComplete(res *Result) {
	for _, ob := range o {
		ob.OnRunComplete(res)
	}
}

// RecorderObserver adapts metrics.Recorder into an Observer.
type RecorderObserver struct{ Recorder metrics.Recorder }

func (r RecorderObserver) OnRunStart(RunInfo)               {}
func (r RecorderObserver) OnStageStart(RunInfo, stage.Name) {}

func (r RecorderObserver) OnStageComplete(_ RunInfo, name stage.Name, st StageStatus) {
	if r.Recorder == nil {
		return
	}
	switch st.Status {
	case StatusSucceeded:
		r.Recorder.ObserveStageDuration(string(name), st.Duration)
		r.Recorder.IncStageResult(string(name), metrics.ResultSuccess)
	case StatusFailed:
		r.Recorder.ObserveStageDuration(string(name), st.Duration)
		r.Recorder.IncStageResult(string(name), metrics.ResultFailed)
	case StatusSkipped:
		r.Recorder.IncStageResult(string(name), metrics.ResultSkipped)
	case StatusPending, StatusRunning:
	}
}

func (r RecorderObserver) OnRunComplete(res *Result) {
	if r.Recorder == nil {
		return
	}
	r.Recorder.ObserveRunDuration(res.Reason, res.Duration())
	r.Recorder.IncRunOutcome(res.Reason, res.Succeeded())
}
