package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/article-harvester/internal/progress"
)

const defaultTrackedRuns = 20

// RunStatus is the lifecycle state of a tracked run.
type RunStatus string

// Tracked run statuses.
const (
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
)

// SourceProgress holds live counters for one source within a run.
type SourceProgress struct {
	Succeeded     int    `json:"succeeded"`
	Failed        int    `json:"failed"`
	Persisted     int    `json:"persisted"`
	Duplicates    int    `json:"duplicates"`
	Cycles        int    `json:"cycles"`
	SkippedCycles int    `json:"skipped_cycles"`
	BreakerState  string `json:"breaker_state"`
	BatchSize     int    `json:"batch_size"`
}

// RunProgress is the live view of one run, built purely from events.
type RunProgress struct {
	RunID      string                    `json:"run_id"`
	Status     RunStatus                 `json:"status"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt *time.Time                `json:"finished_at,omitempty"`
	StopReason string                    `json:"stop_reason,omitempty"`
	Sources    map[string]SourceProgress `json:"sources"`
}

// Tracker keeps the most recent runs in memory so the admin API can show
// progress while a run is still going.
type Tracker struct {
	mu    sync.RWMutex
	limit int
	runs  map[string]*RunProgress
	order []string
}

// NewTracker keeps up to limit runs; non-positive limits use the default.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = defaultTrackedRuns
	}
	return &Tracker{limit: limit, runs: make(map[string]*RunProgress)}
}

// Consume folds the batch into the tracked runs.
func (t *Tracker) Consume(_ context.Context, batch []progress.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		t.apply(evt)
	}
	return nil
}

func (t *Tracker) apply(evt progress.Event) {
	run := t.runs[evt.RunID]
	if run == nil {
		run = &RunProgress{
			RunID:     evt.RunID,
			Status:    RunRunning,
			StartedAt: evt.TS,
			Sources:   make(map[string]SourceProgress),
		}
		t.runs[evt.RunID] = run
		t.order = append(t.order, evt.RunID)
		t.evict()
	}
	if evt.Stage == progress.StageRunDone {
		finished := evt.TS
		run.Status = RunDone
		run.FinishedAt = &finished
		run.StopReason = evt.Note
		return
	}
	if evt.Source == "" {
		return
	}
	src := run.Sources[evt.Source]
	switch evt.Stage {
	case progress.StageFetchDone:
		if evt.Outcome == "success" {
			src.Succeeded++
		} else if evt.Outcome == "failure" {
			src.Failed++
		}
	case progress.StagePersistDone:
		switch evt.Outcome {
		case "ack":
			src.Persisted++
		case "duplicate_skipped":
			src.Duplicates++
		}
	case progress.StageCycleDone:
		src.Cycles++
	case progress.StageCycleSkipped:
		src.SkippedCycles++
	case progress.StageBreakerTransition:
		src.BreakerState = evt.To
	case progress.StageCycleStart, progress.StageBatchResize:
		if evt.BatchSize > 0 {
			src.BatchSize = evt.BatchSize
		}
	}
	if src.BreakerState == "" {
		src.BreakerState = "closed"
	}
	run.Sources[evt.Source] = src
}

func (t *Tracker) evict() {
	for len(t.order) > t.limit {
		delete(t.runs, t.order[0])
		t.order = t.order[1:]
	}
}

// Runs returns tracked runs, newest first.
func (t *Tracker) Runs() []RunProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RunProgress, 0, len(t.order))
	for i := len(t.order) - 1; i >= 0; i-- {
		out = append(out, copyRun(t.runs[t.order[i]]))
	}
	return out
}

// Run returns one tracked run.
func (t *Tracker) Run(id string) (RunProgress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[id]
	if !ok {
		return RunProgress{}, false
	}
	return copyRun(run), true
}

func copyRun(run *RunProgress) RunProgress {
	out := *run
	out.Sources = make(map[string]SourceProgress, len(run.Sources))
	for k, v := range run.Sources {
		out.Sources[k] = v
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (t *Tracker) Close(context.Context) error {
	return nil
}
