// Package schedule triggers harvesting runs on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is invoked on every tick with the runner's base context.
type Job func(ctx context.Context)

// Runner wraps a cron instance that never overlaps invocations of its job.
type Runner struct {
	cron    *cron.Cron
	entry   cron.EntryID
	logger  *zap.Logger
	baseCtx context.Context
}

// New parses spec (six fields, seconds first, or a descriptor such as
// "@every 15m") and registers job. A tick that arrives while the previous
// invocation is still running is skipped.
func New(baseCtx context.Context, spec string, job Job, logger *zap.Logger) (*Runner, error) {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{logger: logger, baseCtx: baseCtx}
	adapter := cronLogger{logger: logger.Sugar()}
	r.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	id, err := r.cron.AddFunc(spec, func() { job(r.baseCtx) })
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	r.entry = id
	return r, nil
}

// Start begins firing in the background.
func (r *Runner) Start() {
	r.logger.Info("schedule started", zap.Time("next", r.Next()))
	r.cron.Start()
}

// Stop halts the schedule and waits for a running job to return.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("schedule stopped")
}

// Next reports the next activation time; zero before Start.
func (r *Runner) Next() time.Time {
	return r.cron.Entry(r.entry).Next
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
