package degrade

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func recordN(c *Controller, n int, success bool) {
	for i := 0; i < n; i++ {
		c.Record(success)
	}
}

func TestControllerShrinksStrictlyWhileBelowLowWater(t *testing.T) {
	t.Parallel()

	c := New(Config{Baseline: 16, Floor: 2})
	require.Equal(t, 16, c.BatchSize())

	var sizes []int
	for cycle := 0; cycle < 6; cycle++ {
		recordN(c, 4, false)
		sizes = append(sizes, c.BatchSize())
	}
	require.Equal(t, []int{8, 4, 2, 2, 2, 2}, sizes)
	for i := 1; i < 3; i++ {
		require.Less(t, sizes[i], sizes[i-1])
	}
	for _, s := range sizes {
		require.GreaterOrEqual(t, s, 2)
	}
}

func TestControllerStrictDecreaseWithShallowShrink(t *testing.T) {
	t.Parallel()

	c := New(Config{Baseline: 3, Floor: 1, ShrinkFactor: 0.9})
	recordN(c, 5, false)
	require.Equal(t, 2, c.BatchSize())
	recordN(c, 5, false)
	require.Equal(t, 1, c.BatchSize())
	recordN(c, 5, false)
	require.Equal(t, 1, c.BatchSize())
}

func TestControllerNeverDropsToZero(t *testing.T) {
	t.Parallel()

	c := New(Config{Baseline: 5})
	for i := 0; i < 20; i++ {
		recordN(c, 3, false)
		require.Positive(t, c.BatchSize())
	}
	require.Equal(t, 1, c.Snapshot().BatchSize)
}

func TestControllerEvaluatesOnlyOnNewData(t *testing.T) {
	t.Parallel()

	c := New(Config{Baseline: 8})
	recordN(c, 2, false)
	require.Equal(t, 4, c.BatchSize())
	require.Equal(t, 4, c.BatchSize())
	require.Equal(t, 4, c.BatchSize())
}

func TestControllerRecoversAfterSustainedHighRate(t *testing.T) {
	t.Parallel()

	c := New(Config{Baseline: 8, Window: 4, RecoveryEvaluations: 3})
	recordN(c, 4, false)
	require.Equal(t, 4, c.BatchSize())

	recordN(c, 4, true)
	require.Equal(t, 4, c.BatchSize(), "first high evaluation")
	c.Record(true)
	require.Equal(t, 4, c.BatchSize(), "second high evaluation")
	c.Record(true)
	require.Equal(t, 8, c.BatchSize(), "third high evaluation grows")

	c.Record(true)
	require.Equal(t, 8, c.BatchSize(), "capped at baseline")
}

func TestControllerMidRangeResetsRecovery(t *testing.T) {
	t.Parallel()

	c := New(Config{Baseline: 8, Window: 4, RecoveryEvaluations: 2})
	recordN(c, 4, false)
	require.Equal(t, 4, c.BatchSize())

	recordN(c, 4, true)
	require.Equal(t, 4, c.BatchSize())
	// 3 of 4 successes sits between the water marks.
	c.Record(false)
	require.Equal(t, 4, c.BatchSize())
	recordN(c, 1, true)
	require.Equal(t, 4, c.BatchSize())
}

func TestControllerResizeCallback(t *testing.T) {
	t.Parallel()

	c := New(Config{Baseline: 4})
	var resized [][2]int
	c.OnResize(func(from, to int) {
		resized = append(resized, [2]int{from, to})
	})
	recordN(c, 3, false)
	c.BatchSize()
	require.Equal(t, [][2]int{{4, 2}}, resized)
}

func TestControllerFloorClampedToBaseline(t *testing.T) {
	t.Parallel()

	c := New(Config{Baseline: 2, Floor: 10})
	snap := c.Snapshot()
	require.Equal(t, 2, snap.Floor)
	require.Equal(t, 2, snap.BatchSize)
	require.InDelta(t, 1.0, snap.SuccessRate, 1e-9)
}

func TestControllerRateAtHighWaterDoesNotCountTowardRecovery(t *testing.T) {
	t.Parallel()

	c := New(Config{Baseline: 8, Floor: 1, Window: 10, RecoveryEvaluations: 2})
	recordN(c, 10, false)
	require.Equal(t, 4, c.BatchSize())

	// Each evaluation below sees exactly 8 of 10 successes.
	recordN(c, 8, true)
	require.Equal(t, 4, c.BatchSize())
	recordN(c, 2, false)
	require.Equal(t, 4, c.BatchSize())
	recordN(c, 2, true)
	require.Equal(t, 4, c.BatchSize())
	require.InDelta(t, DefaultHighWater, c.Snapshot().SuccessRate, 1e-9)

	recordN(c, 10, true)
	require.Equal(t, 4, c.BatchSize())
	c.Record(true)
	require.Equal(t, 8, c.BatchSize())
}
