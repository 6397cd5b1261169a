// Package eventstore persists run history as events in SQLite and projects
// them into per-run summaries.
package eventstore

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"
	"time"
)

const (
	runStatusRunning   = "running"
	runStatusSucceeded = "succeeded"
	runStatusFailed    = "failed"
)

// RunSummary is a read model of one run.
type RunSummary struct {
	RunID       string            `json:"run_id"`
	Seq         uint64            `json:"seq"`
	Reason      string            `json:"reason"`
	Status      string            `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Duration    time.Duration     `json:"duration,omitempty"`
	Changed     int               `json:"changed"`
	Stages      map[string]string `json:"stages"`
	FailedStage string            `json:"failed_stage,omitempty"`
	Error       string            `json:"error,omitempty"`
	Outputs     int               `json:"outputs"`
}

// RunHistoryProjection keeps the most recent runs in memory, rebuilt from the
// store at startup and updated as events are applied.
type RunHistoryProjection struct {
	mu      sync.RWMutex
	store   Store
	runs    map[string]*RunSummary
	history []*RunSummary // newest first
	maxSize int
}

// NewRunHistoryProjection returns a projection over store keeping at most
// maxHistorySize completed runs.
func NewRunHistoryProjection(store Store, maxHistorySize int) *RunHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &RunHistoryProjection{
		store:   store,
		runs:    make(map[string]*RunSummary),
		maxSize: maxHistorySize,
	}
}

// Rebuild replays every stored event.
func (p *RunHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = make(map[string]*RunSummary)
	p.history = nil
	for _, e := range events {
		p.applyLocked(e)
	}
	slices.SortStableFunc(p.history, func(a, b *RunSummary) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return nil
}

// Apply folds one event into the projection.
func (p *RunHistoryProjection) Apply(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyLocked(e)
}

func (p *RunHistoryProjection) applyLocked(e Event) {
	id := e.RunID()
	if id == "" {
		return
	}
	s, ok := p.runs[id]
	if !ok {
		s = &RunSummary{RunID: id, Status: runStatusRunning, StartedAt: e.Timestamp(), Stages: map[string]string{}}
		p.runs[id] = s
	}

	switch e.Type() {
	case TypeRunStarted:
		var ev RunStarted
		if json.Unmarshal(e.Payload(), &ev) == nil {
			s.Seq = ev.Seq
			s.Reason = ev.Reason
			s.Changed = len(ev.Changed)
			for _, n := range ev.Order {
				s.Stages[n] = "pending"
			}
		}
		s.StartedAt = e.Timestamp()

	case TypeStageFinished:
		var ev StageFinished
		if json.Unmarshal(e.Payload(), &ev) == nil {
			s.Stages[ev.Stage] = ev.Status
		}

	case TypeRunFinished:
		var ev RunFinished
		if json.Unmarshal(e.Payload(), &ev) != nil {
			return
		}
		end := e.Timestamp()
		s.CompletedAt = &end
		s.Duration = time.Duration(ev.DurationMS) * time.Millisecond
		s.Outputs = ev.Outputs
		s.FailedStage = ev.FailedStage
		s.Error = ev.Error
		s.Status = runStatusSucceeded
		if !ev.Succeeded {
			s.Status = runStatusFailed
		}
		p.addToHistoryLocked(s)
	}
}

func (p *RunHistoryProjection) addToHistoryLocked(s *RunSummary) {
	if slices.Contains(p.history, s) {
		return
	}
	p.history = append([]*RunSummary{s}, p.history...)
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	keep := make(map[string]bool, len(p.history))
	for _, h := range p.history {
		keep[h.RunID] = true
	}
	for id, r := range p.runs {
		if r.Status != runStatusRunning && !keep[id] {
			delete(p.runs, id)
		}
	}
}

// History returns completed runs, newest first.
func (p *RunHistoryProjection) History() []RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]RunSummary, len(p.history))
	for i, s := range p.history {
		out[i] = s.clone()
	}
	return out
}

// Run returns the summary of one run.
func (p *RunHistoryProjection) Run(runID string) (RunSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.runs[runID]
	if !ok {
		return RunSummary{}, false
	}
	return s.clone(), true
}

// LastCompleted returns the most recently completed run, if any.
func (p *RunHistoryProjection) LastCompleted() (RunSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.history) == 0 {
		return RunSummary{}, false
	}
	return p.history[0].clone(), true
}

func (s *RunSummary) clone() RunSummary {
	cp := *s
	cp.Stages = maps.Clone(s.Stages)
	return cp
}
