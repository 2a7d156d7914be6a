// Package orchestrator drives harvesting runs: one stream per enabled source,
// all sharing a bounded worker pool, a run-wide deduplicator and the sink.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/article-harvester/internal/clock/system"
	"github.com/JakeFAU/article-harvester/internal/dedup"
	"github.com/JakeFAU/article-harvester/internal/degrade"
	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/hash/sha256"
	"github.com/JakeFAU/article-harvester/internal/id/uuid"
	"github.com/JakeFAU/article-harvester/internal/progress"
	"github.com/JakeFAU/article-harvester/internal/registry"
	"github.com/JakeFAU/article-harvester/internal/scheduler"
)

// Stop reasons reported per source and per run.
const (
	StopCompleted       = "completed"
	StopExhausted       = "exhausted"
	StopCancelled       = "cancelled"
	StopAttemptCap      = "attempt_cap"
	StopMaxCycles       = "max_cycles"
	StopCollectorFailed = "collector_failed"
)

const (
	defaultMaxAttempts    = 3
	defaultCycleInterval  = 2 * time.Second
	defaultPersistTimeout = 10 * time.Second
)

// Config holds run-wide limits. Per-source limits live in SourceConfig.
type Config struct {
	Workers        int
	TaskTimeout    time.Duration
	MaxAttempts    int
	MaxTotal       int
	MaxCycles      int
	CycleInterval  time.Duration
	PersistTimeout time.Duration
	// Degrade supplies the shared thresholds; Baseline and Floor come from
	// each source.
	Degrade degrade.Config
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = defaultCycleInterval
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = defaultPersistTimeout
	}
	return c
}

// Deps are the collaborators shared by every run.
type Deps struct {
	Registry *registry.Registry
	Sink     harvest.Sink
	Emitter  progress.Emitter
	Clock    harvest.Clock
	IDs      harvest.IDGenerator
	Hasher   harvest.Hasher
	Logger   *zap.Logger
}

// Orchestrator runs harvests. One Orchestrator may run many times; each Run
// gets fresh breakers, controllers, a fresh dedup set and its own pool.
type Orchestrator struct {
	cfg      Config
	registry *registry.Registry
	sink     harvest.Sink
	emitter  progress.Emitter
	clock    harvest.Clock
	ids      harvest.IDGenerator
	hasher   harvest.Hasher
	logger   *zap.Logger
}

// New validates deps and returns an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		registry: deps.Registry,
		sink:     deps.Sink,
		emitter:  deps.Emitter,
		clock:    deps.Clock,
		ids:      deps.IDs,
		hasher:   deps.Hasher,
		logger:   deps.Logger,
	}
	if o.emitter == nil {
		o.emitter = progress.Nop{}
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.ids == nil {
		o.ids = uuid.New()
	}
	if o.hasher == nil {
		o.hasher = sha256.New()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o, nil
}

// run is the state shared by the streams of a single Run.
type run struct {
	*Orchestrator
	id       string
	pool     *scheduler.Pool
	seen     *dedup.Set
	attempts atomic.Int64
}

// Run harvests every enabled source until each stream stops. Configuration
// problems fail fast with an error before any fetch; once streams start, a
// report is always returned.
func (o *Orchestrator) Run(ctx context.Context, sources []harvest.SourceConfig) (harvest.RunReport, error) {
	if err := o.registry.Validate(sources); err != nil {
		return harvest.RunReport{}, err
	}
	components, disabled, err := o.registry.ResolveAll(sources)
	if err != nil {
		return harvest.RunReport{}, err
	}
	runID, err := o.ids.NewID()
	if err != nil {
		return harvest.RunReport{}, fmt.Errorf("generate run id: %w", err)
	}

	r := &run{
		Orchestrator: o,
		id:           runID,
		seen:         dedup.New(),
		pool: scheduler.New(scheduler.Config{
			Workers:     o.cfg.Workers,
			TaskTimeout: o.cfg.TaskTimeout,
			Logger:      o.logger.Named("pool"),
		}),
	}
	defer r.pool.Close()

	report := harvest.RunReport{
		RunID:           runID,
		StartedAt:       o.clock.Now(),
		DisabledSources: disabled,
		Sources:         make([]harvest.SourceReport, len(components)),
	}
	logger := o.logger.With(zap.String("run_id", runID))
	logger.Info("run started", zap.Int("sources", len(components)), zap.Strings("disabled", disabled))
	r.emit(progress.Event{Stage: progress.StageRunStart, Note: fmt.Sprintf("%d sources", len(components))})

	var g errgroup.Group
	for i, comp := range components {
		s := newStream(r, comp)
		g.Go(func() error {
			report.Sources[i] = s.loop(ctx)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = o.clock.Now()
	report.StopReason = r.stopReason(ctx)
	totals := report.Totals()
	completed, timedOut := r.pool.Stats()
	logger.Info("run finished",
		zap.String("stop_reason", report.StopReason),
		zap.Int("attempted", totals.Attempted),
		zap.Int("succeeded", totals.Succeeded),
		zap.Int("failed", totals.Failed),
		zap.Int("persisted", totals.Persisted),
		zap.Int("skipped_duplicate", totals.SkippedDuplicate),
		zap.Int("unique_urls", r.seen.Len()),
		zap.Int64("jobs_completed", completed),
		zap.Int64("jobs_timed_out", timedOut),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	r.emit(progress.Event{
		Stage: progress.StageRunDone,
		Note:  report.StopReason,
		Dur:   max(report.FinishedAt.Sub(report.StartedAt), 0),
	})
	return report, nil
}

func (r *run) stopReason(ctx context.Context) string {
	switch {
	case ctx.Err() != nil:
		return StopCancelled
	case r.capReached():
		return StopAttemptCap
	default:
		return StopCompleted
	}
}

// reserveAttempt claims one unit of the global attempt budget.
func (r *run) reserveAttempt() bool {
	if r.cfg.MaxTotal <= 0 {
		r.attempts.Add(1)
		return true
	}
	if r.attempts.Add(1) > int64(r.cfg.MaxTotal) {
		r.attempts.Add(-1)
		return false
	}
	return true
}

func (r *run) releaseAttempt() {
	r.attempts.Add(-1)
}

func (r *run) capReached() bool {
	return r.cfg.MaxTotal > 0 && r.attempts.Load() >= int64(r.cfg.MaxTotal)
}

func (r *run) emit(evt progress.Event) {
	evt.RunID = r.id
	evt.TS = r.clock.Now()
	r.emitter.Emit(evt)
}
