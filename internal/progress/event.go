package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart          Stage = "RUN_START"
	StageRunDone           Stage = "RUN_DONE"
	StageCycleStart        Stage = "CYCLE_START"
	StageCycleSkipped      Stage = "CYCLE_SKIPPED"
	StageCycleDone         Stage = "CYCLE_DONE"
	StageFetchDone         Stage = "FETCH_DONE"
	StagePersistDone       Stage = "PERSIST_DONE"
	StageBreakerTransition Stage = "BREAKER_TRANSITION"
	StageBatchResize       Stage = "BATCH_RESIZE"
)

// Event is one observation emitted during a run.
type Event struct {
	RunID string
	// TS is the UTC time the emitter recorded the event.
	TS     time.Time
	Stage  Stage
	Source string
	URL    string
	// Outcome is a FetchResult outcome or a persist status.
	Outcome string
	// Kind is the error kind for failures.
	Kind    string
	Attempt int
	// From and To describe breaker transitions.
	From string
	To   string
	// PrevBatchSize and BatchSize describe batch resizes and cycle sizes.
	PrevBatchSize int
	BatchSize     int
	Dur           time.Duration
	Note          string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
		return nil
	case StageCycleStart, StageCycleSkipped, StageCycleDone:
	case StageFetchDone, StagePersistDone:
		if e.Outcome == "" {
			return fmt.Errorf("%s requires outcome", e.Stage)
		}
	case StageBreakerTransition:
		if e.From == "" || e.To == "" {
			return errors.New("breaker transition requires from and to")
		}
	case StageBatchResize:
		if e.BatchSize <= 0 {
			return errors.New("batch resize requires a positive batch size")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Source == "" {
		return fmt.Errorf("%s requires source", e.Stage)
	}
	return nil
}
