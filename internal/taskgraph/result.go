package taskgraph

import (
	"fmt"
	"slices"
	"time"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// Status is the state of one stage within a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Reasons recorded for skipped stages.
const (
	ReasonUpstream = "upstream"
	ReasonHalted   = "halted"
	ReasonCanceled = "canceled"
)

// StageStatus is the outcome of one stage within a run.
type StageStatus struct {
	Status Status
	// Reason explains a skip: upstream, halted or canceled.
	Reason   string
	Err      error
	Duration time.Duration
	Inputs   []string
	Outputs  []string
}

// ErrorKind classifies a stage failure.
type ErrorKind string

const (
	KindTransform ErrorKind = "transform"
	KindIO        ErrorKind = "io"
	KindUpstream  ErrorKind = "upstream"
	KindInternal  ErrorKind = "internal"
)

// StageError is a structured stage failure carrying its kind and cause.
type StageError struct {
	Stage stage.Name
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage %s: %v", e.Kind, e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Diagnostics returns the compiler or bundler diagnostics attached to the failure.
func (e *StageError) Diagnostics() []stage.Diagnostic { return stage.Diagnostics(e.Err) }

func newStageError(name stage.Name, err error) *StageError {
	kind := KindTransform
	switch {
	case stage.IsIOFailure(err):
		kind = KindIO
	case ferrors.HasCategory(err, ferrors.CategoryInternal):
		kind = KindInternal
	}
	return &StageError{Stage: name, Kind: kind, Err: err}
}

func upstreamError(name, dep stage.Name) *StageError {
	return &StageError{
		Stage: name,
		Kind:  KindUpstream,
		Err: ferrors.UpstreamError(fmt.Sprintf("skipped: dependency %s did not succeed", dep)).
			WithContext("stage", string(name)).
			WithContext("dependency", string(dep)).
			Build(),
	}
}

// Result describes one run. Stages is owned by the run and is complete once
// Execute returns.
type Result struct {
	RunID   string
	Seq     uint64
	Reason  string
	Targets []stage.Name
	Changed []string
	// Order is the chain that was executed, in dependency order.
	Order  []stage.Name
	Stages map[stage.Name]StageStatus
	// Err is the first stage failure, nil on success.
	Err error
	// Failures lists every stage failure in completion order, Err first.
	Failures []*StageError
	Start    time.Time
	End      time.Time
}

// Succeeded reports whether every stage in the chain succeeded.
func (r *Result) Succeeded() bool { return r != nil && r.Err == nil }

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration { return r.End.Sub(r.Start) }

// Status returns the status of a stage in this run.
func (r *Result) Status(name stage.Name) StageStatus { return r.Stages[name] }

// Outputs returns every file written by the run, sorted.
func (r *Result) Outputs() []string {
	var out []string
	for _, n := range r.Order {
		out = append(out, r.Stages[n].Outputs...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Skipped lists stages that never ran, in chain order.
func (r *Result) Skipped() []stage.Name {
	var out []stage.Name
	for _, n := range r.Order {
		if r.Stages[n].Status == StatusSkipped {
			out = append(out, n)
		}
	}
	return out
}
