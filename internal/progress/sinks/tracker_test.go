package sinks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/progress"
)

func TestTrackerFoldsEvents(t *testing.T) {
	t.Parallel()

	tr := NewTracker(5)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := []progress.Event{
		{RunID: "r1", TS: start, Stage: progress.StageRunStart},
		{RunID: "r1", TS: start, Stage: progress.StageCycleStart, Source: "wire", BatchSize: 8},
		{RunID: "r1", TS: start, Stage: progress.StageFetchDone, Source: "wire", Outcome: "success"},
		{RunID: "r1", TS: start, Stage: progress.StageFetchDone, Source: "wire", Outcome: "failure", Kind: "transient"},
		{RunID: "r1", TS: start, Stage: progress.StagePersistDone, Source: "wire", Outcome: "ack"},
		{RunID: "r1", TS: start, Stage: progress.StageBreakerTransition, Source: "wire", From: "closed", To: "open"},
		{RunID: "r1", TS: start, Stage: progress.StageCycleSkipped, Source: "wire"},
		{RunID: "r1", TS: start, Stage: progress.StageCycleDone, Source: "wire"},
	}
	require.NoError(t, tr.Consume(context.Background(), batch))

	run, ok := tr.Run("r1")
	require.True(t, ok)
	require.Equal(t, RunRunning, run.Status)
	require.Equal(t, SourceProgress{
		Succeeded:     1,
		Failed:        1,
		Persisted:     1,
		Cycles:        1,
		SkippedCycles: 1,
		BreakerState:  "open",
		BatchSize:     8,
	}, run.Sources["wire"])

	done := start.Add(time.Minute)
	require.NoError(t, tr.Consume(context.Background(), []progress.Event{
		{RunID: "r1", TS: done, Stage: progress.StageRunDone, Note: "completed"},
	}))
	run, _ = tr.Run("r1")
	require.Equal(t, RunDone, run.Status)
	require.Equal(t, "completed", run.StopReason)
	require.Equal(t, done, *run.FinishedAt)
}

func TestTrackerEvictsOldestRuns(t *testing.T) {
	t.Parallel()

	tr := NewTracker(2)
	for i := 1; i <= 3; i++ {
		require.NoError(t, tr.Consume(context.Background(), []progress.Event{
			{RunID: fmt.Sprintf("r%d", i), TS: time.Now(), Stage: progress.StageRunStart},
		}))
	}
	runs := tr.Runs()
	require.Len(t, runs, 2)
	require.Equal(t, "r3", runs[0].RunID)
	require.Equal(t, "r2", runs[1].RunID)
	_, ok := tr.Run("r1")
	require.False(t, ok)
}

func TestTrackerReturnsCopies(t *testing.T) {
	t.Parallel()

	tr := NewTracker(1)
	require.NoError(t, tr.Consume(context.Background(), []progress.Event{
		{RunID: "r1", TS: time.Now(), Stage: progress.StageFetchDone, Source: "wire", Outcome: "success"},
	}))
	run, _ := tr.Run("r1")
	run.Sources["wire"] = SourceProgress{Succeeded: 99}
	again, _ := tr.Run("r1")
	require.Equal(t, 1, again.Sources["wire"].Succeeded)
}
