package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/article-harvester/internal/progress"
)

func TestLogSinkLevelsAndFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))
	now := time.Now()
	batch := []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StageFetchDone, Source: "wire", Outcome: "success"},
		{RunID: "r1", TS: now, Stage: progress.StageBreakerTransition, Source: "wire", From: "closed", To: "open"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	require.Equal(t, "BREAKER_TRANSITION", ctx["stage"])
	require.Equal(t, "open", ctx["to"])
	require.Equal(t, "wire", ctx["source"])
	_, hasURL := ctx["url"]
	require.False(t, hasURL)
	require.NoError(t, sink.Close(context.Background()))
}
