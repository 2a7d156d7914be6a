// Package scheduler runs fetch+extract jobs on a bounded worker pool shared by
// every source stream.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

const defaultTaskTimeout = 30 * time.Second

// Config controls pool sizing and per-task deadlines.
type Config struct {
	Workers     int
	TaskTimeout time.Duration
	Logger      *zap.Logger
}

// Job pairs a task with the work to perform and where to send its result.
// Deliver is called exactly once per accepted job, from a worker goroutine.
type Job struct {
	Task    harvest.FetchTask
	Run     func(ctx context.Context) harvest.FetchResult
	Deliver func(harvest.FetchResult)
}

type queued struct {
	job Job
	ctx context.Context
}

// Pool is a fixed set of workers draining an unbuffered job channel, so
// Submit blocks until a worker is free.
type Pool struct {
	cfg       Config
	jobs      chan queued
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	completed atomic.Int64
	timedOut  atomic.Int64
	logger    *zap.Logger
}

// New starts cfg.Workers workers.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:    cfg,
		jobs:   make(chan queued),
		quit:   make(chan struct{}),
		logger: logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

// Submit hands job to a worker. It blocks until a worker accepts it, ctx ends,
// or the pool closes. The job itself runs detached from ctx cancellation and
// is bounded only by the task timeout.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if job.Run == nil || job.Deliver == nil {
		return errors.New("job requires Run and Deliver")
	}
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("submit canceled: %w", ctx.Err())
	case <-p.quit:
		return ErrPoolClosed
	case p.jobs <- queued{job: job, ctx: context.WithoutCancel(ctx)}:
		return nil
	}
}

// Close stops accepting jobs and waits for in-flight jobs to deliver.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}

// Stats returns completed and timed-out job counts.
func (p *Pool) Stats() (completed, timedOut int64) {
	return p.completed.Load(), p.timedOut.Load()
}

func (p *Pool) work(index int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", index))
	for {
		select {
		case <-p.quit:
			return
		case q := <-p.jobs:
			p.execute(q, logger)
		}
	}
}

func (p *Pool) execute(q queued, logger *zap.Logger) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(q.ctx, p.cfg.TaskTimeout)
	defer cancel()

	done := make(chan harvest.FetchResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("task panicked", zap.String("url", q.job.Task.URL), zap.Any("panic", rec))
				done <- failure(q.job.Task, harvest.Permanent("task", fmt.Errorf("panic: %v", rec)))
			}
		}()
		done <- q.job.Run(ctx)
	}()

	var res harvest.FetchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		p.timedOut.Add(1)
		logger.Debug("task timed out",
			zap.String("source", q.job.Task.Source),
			zap.String("url", q.job.Task.URL),
			zap.Duration("timeout", p.cfg.TaskTimeout),
		)
		res = failure(q.job.Task, harvest.NewError(harvest.KindTimeout, "task", ctx.Err()))
	}
	if res.Source == "" {
		res.Source = q.job.Task.Source
	}
	if res.URL == "" {
		res.URL = q.job.Task.URL
	}
	if res.Attempt == 0 {
		res.Attempt = q.job.Task.Attempt
	}
	if res.Latency == 0 {
		res.Latency = time.Since(start)
	}
	p.completed.Add(1)
	q.job.Deliver(res)
}

func failure(task harvest.FetchTask, err error) harvest.FetchResult {
	return harvest.FetchResult{
		Source:  task.Source,
		URL:     task.URL,
		Attempt: task.Attempt,
		Outcome: harvest.OutcomeFailure,
		Kind:    harvest.KindOf(err),
		Err:     err,
	}
}
