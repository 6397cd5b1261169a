package eventstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/stage"
	"git.home.luguber.info/inful/frontbuild/internal/taskgraph"
)

const appendTimeout = 5 * time.Second

// Recorder writes task graph runs into a Store and keeps a projection
// current. History failures are logged and never affect the run.
type Recorder struct {
	taskgraph.NoopObserver
	store      Store
	projection *RunHistoryProjection
	logger     *slog.Logger
}

// NewRecorder returns an observer appending to store. projection may be nil.
func NewRecorder(store Store, projection *RunHistoryProjection, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, projection: projection, logger: logger}
}

func (r *Recorder) OnRunStart(run taskgraph.RunInfo) {
	ev, err := NewRunStarted(run.ID, run.Seq, run.Reason, names(run.Order), names(run.Targets), run.Changed, run.Start)
	r.append(ev, err)
}

func (r *Recorder) OnStageComplete(run taskgraph.RunInfo, name stage.Name, st taskgraph.StageStatus) {
	msg := ""
	if st.Err != nil {
		msg = st.Err.Error()
	}
	ev, err := NewStageFinished(run.ID, string(name), string(st.Status), st.Reason, st.Duration, len(st.Outputs), msg, time.Now())
	r.append(ev, err)
}

func (r *Recorder) OnRunComplete(res *taskgraph.Result) {
	failed, msg := "", ""
	if res.Err != nil {
		msg = res.Err.Error()
		var se *taskgraph.StageError
		if errors.As(res.Err, &se) {
			failed = string(se.Stage)
		}
	}
	ev, err := NewRunFinished(res.RunID, res.Succeeded(), res.Duration(), failed, msg, names(res.Skipped()), len(res.Outputs()), res.End)
	r.append(ev, err)
}

func (r *Recorder) append(ev Event, err error) {
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err = r.store.Append(ctx, ev)
		cancel()
	}
	if err != nil {
		r.logger.Warn("Failed to record run history", logfields.Error(err))
		return
	}
	if r.projection != nil {
		r.projection.Apply(ev)
	}
}

func names(ns []stage.Name) []string {
	if len(ns) == 0 {
		return nil
	}
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = string(n)
	}
	return out
}
