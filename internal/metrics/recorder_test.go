package metrics

import (
	"testing"
	"time"
)

// NoopRecorder must satisfy Recorder and accept any input.
func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveStageDuration("compile", time.Second)
	r.IncStageResult("compile", ResultFailed)
	r.ObserveRunDuration("build", time.Second)
	r.IncRunOutcome("build", true)
	r.AddCoalescedEvents("styles", 3)
	r.IncReloadBroadcast()
	r.SetLiveClients(2)
}
