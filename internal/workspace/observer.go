package workspace

import (
	"log/slog"

	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/stage"
	"git.home.luguber.info/inful/frontbuild/internal/taskgraph"
)

// ManifestObserver records the outputs of every successful stage in the
// manifest.
type ManifestObserver struct {
	taskgraph.NoopObserver
	Manifest *Manifest
	Logger   *slog.Logger
}

func (o ManifestObserver) OnStageComplete(run taskgraph.RunInfo, name stage.Name, st taskgraph.StageStatus) {
	if o.Manifest == nil || st.Status != taskgraph.StatusSucceeded {
		return
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	changed, err := o.Manifest.Record(name, run.Seq, st.Inputs, st.Outputs)
	if err != nil {
		logger.Warn("Failed to record stage outputs", logfields.Stage(string(name)), logfields.Error(err))
		return
	}
	logger.Debug("Artifacts recorded",
		logfields.Stage(string(name)),
		logfields.RunSeq(run.Seq),
		logfields.Outputs(len(st.Outputs)),
		logfields.Changed(len(changed)))
}
