package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// Event type names.
const (
	TypeRunStarted    = "RunStarted"
	TypeStageFinished = "StageFinished"
	TypeRunFinished   = "RunFinished"
)

// RunStarted is emitted when a run begins.
type RunStarted struct {
	BaseEvent
	Seq     uint64   `json:"seq"`
	Reason  string   `json:"reason"`
	Targets []string `json:"targets,omitempty"`
	Order   []string `json:"order"`
	Changed []string `json:"changed,omitempty"`
}

// NewRunStarted creates a RunStarted event.
func NewRunStarted(runID string, seq uint64, reason string, order, targets, changed []string, at time.Time) (*RunStarted, error) {
	ev := &RunStarted{Seq: seq, Reason: reason, Targets: targets, Order: order, Changed: changed}
	return ev, ev.init(runID, TypeRunStarted, at, ev)
}

// StageFinished is emitted once per stage of a run, including skipped ones.
type StageFinished struct {
	BaseEvent
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Outputs    int    `json:"outputs"`
	Error      string `json:"error,omitempty"`
}

// NewStageFinished creates a StageFinished event.
func NewStageFinished(runID, stage, status, reason string, d time.Duration, outputs int, errMsg string, at time.Time) (*StageFinished, error) {
	ev := &StageFinished{
		Stage:      stage,
		Status:     status,
		Reason:     reason,
		DurationMS: d.Milliseconds(),
		Outputs:    outputs,
		Error:      errMsg,
	}
	return ev, ev.init(runID, TypeStageFinished, at, ev)
}

// RunFinished is emitted when a run ends.
type RunFinished struct {
	BaseEvent
	Succeeded   bool     `json:"succeeded"`
	DurationMS  int64    `json:"duration_ms"`
	FailedStage string   `json:"failed_stage,omitempty"`
	Error       string   `json:"error,omitempty"`
	Skipped     []string `json:"skipped,omitempty"`
	Outputs     int      `json:"outputs"`
}

// NewRunFinished creates a RunFinished event.
func NewRunFinished(runID string, succeeded bool, d time.Duration, failedStage, errMsg string, skipped []string, outputs int, at time.Time) (*RunFinished, error) {
	ev := &RunFinished{
		Succeeded:   succeeded,
		DurationMS:  d.Milliseconds(),
		FailedStage: failedStage,
		Error:       errMsg,
		Skipped:     skipped,
		Outputs:     outputs,
	}
	return ev, ev.init(runID, TypeRunFinished, at, ev)
}

// init fills the base fields and encodes v as the payload.
func (e *BaseEvent) init(runID, typ string, at time.Time, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.EventStoreError("failed to marshal "+typ+" payload").
			WithCause(err).
			WithContext("run_id", runID).
			Build()
	}
	e.EventRunID = runID
	e.EventType = typ
	e.EventTimestamp = at
	e.EventPayload = payload
	return nil
}
