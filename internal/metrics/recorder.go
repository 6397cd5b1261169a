package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
	ResultSkipped ResultLabel = "skipped"
)

// Recorder defines observability hooks for runs, stages and the dev session.
// Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	ObserveRunDuration(reason string, d time.Duration)
	IncRunOutcome(reason string, success bool)
	// AddCoalescedEvents counts change events absorbed into an already pending rerun.
	AddCoalescedEvents(binding string, n int)
	IncReloadBroadcast()
	SetLiveClients(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) ObserveRunDuration(string, time.Duration)   {}
func (NoopRecorder) IncRunOutcome(string, bool)                 {}
func (NoopRecorder) AddCoalescedEvents(string, int)             {}
func (NoopRecorder) IncReloadBroadcast()                        {}
func (NoopRecorder) SetLiveClients(int)                         {}
