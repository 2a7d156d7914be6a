package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/breaker"
	"github.com/JakeFAU/article-harvester/internal/degrade"
	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/progress"
	"github.com/JakeFAU/article-harvester/internal/registry"
	"github.com/JakeFAU/article-harvester/internal/scheduler"
)

// stream owns one source for the duration of a run. Only the stream's own
// goroutine touches its counters; workers hand results back over a channel.
type stream struct {
	run     *run
	cfg     harvest.SourceConfig
	comp    registry.Components
	breaker *breaker.Breaker
	degrade *degrade.Controller
	logger  *zap.Logger

	pending   []harvest.FetchTask
	exhausted bool
	inFlight  int
	results   chan harvest.FetchResult
	report    harvest.SourceReport
}

func newStream(r *run, comp registry.Components) *stream {
	cfg := comp.Config
	s := &stream{
		run:     r,
		cfg:     cfg,
		comp:    comp,
		logger:  r.logger.With(zap.String("run_id", r.id), zap.String("source", cfg.Name)),
		results: make(chan harvest.FetchResult, max(cfg.ConcurrencyLimit, 1)),
		report:  harvest.SourceReport{Source: cfg.Name},
	}
	s.breaker = breaker.New(breaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		Clock:            r.clock,
		OnTransition:     s.onTransition,
	})
	dcfg := r.cfg.Degrade
	dcfg.Baseline = cfg.MaxArticlesPerCycle
	dcfg.Floor = cfg.MinBatchSize
	s.degrade = degrade.New(dcfg)
	s.degrade.OnResize(s.onResize)
	return s
}

func (s *stream) loop(ctx context.Context) harvest.SourceReport {
	s.logger.Info("source stream started",
		zap.Int("batch_size", s.degrade.BatchSize()),
		zap.Int("concurrency", s.cfg.ConcurrencyLimit),
	)
	for {
		if reason, stop := s.shouldStop(ctx); stop {
			s.report.StopReason = reason
			break
		}
		size := s.degrade.BatchSize()

		if !s.breaker.Ready() {
			s.report.SkippedCycles++
			wait := min(s.run.cfg.CycleInterval, max(s.breaker.RetryAfter(), time.Millisecond))
			s.run.emit(progress.Event{
				Stage:  progress.StageCycleSkipped,
				Source: s.cfg.Name,
				Note:   "circuit open",
				Dur:    wait,
			})
			s.sleep(ctx, wait)
			continue
		}

		s.report.Cycles++
		s.run.emit(progress.Event{Stage: progress.StageCycleStart, Source: s.cfg.Name, BatchSize: size})
		start := time.Now()

		tasks, stop := s.collect(ctx, size)
		if stop != "" {
			s.report.StopReason = stop
			break
		}
		if len(tasks) > 0 {
			s.dispatch(ctx, tasks)
		}
		s.run.emit(progress.Event{
			Stage:     progress.StageCycleDone,
			Source:    s.cfg.Name,
			BatchSize: size,
			Dur:       time.Since(start),
		})
		if len(tasks) == 0 && !(s.exhausted && len(s.pending) == 0) {
			s.sleep(ctx, s.run.cfg.CycleInterval)
		}
	}

	// Fold the last cycle's outcomes in before reporting.
	s.degrade.BatchSize()
	batch := s.degrade.Snapshot()
	circuit := s.breaker.Snapshot()
	s.report.Pending = len(s.pending)
	s.report.FinalBatchSize = batch.BatchSize
	s.report.CircuitState = circuit.State.String()
	s.logger.Info("source stream stopped",
		zap.String("stop_reason", s.report.StopReason),
		zap.Int("attempted", s.report.Attempted),
		zap.Int("persisted", s.report.Persisted),
		zap.Int("pending", s.report.Pending),
		zap.Float64("success_rate", batch.SuccessRate),
		zap.String("circuit_state", s.report.CircuitState),
		zap.Int("consecutive_failures", circuit.ConsecutiveFailures),
	)
	return s.report
}

func (s *stream) shouldStop(ctx context.Context) (string, bool) {
	switch {
	case ctx.Err() != nil:
		return StopCancelled, true
	case s.run.capReached():
		return StopAttemptCap, true
	case s.run.cfg.MaxCycles > 0 && s.report.Cycles >= s.run.cfg.MaxCycles:
		return StopMaxCycles, true
	case s.exhausted && len(s.pending) == 0:
		return StopExhausted, true
	default:
		return "", false
	}
}

// collect builds the cycle's batch: queued retries first, then fresh URLs
// from the collector. Fresh URLs already claimed by any stream in this run are
// counted as duplicates and dropped.
func (s *stream) collect(ctx context.Context, size int) ([]harvest.FetchTask, string) {
	n := min(size, len(s.pending))
	tasks := append([]harvest.FetchTask(nil), s.pending[:n]...)
	s.pending = s.pending[n:]

	want := size - len(tasks)
	if want <= 0 || s.exhausted {
		return tasks, ""
	}
	// After a cooldown discovery is the probe. On success the probe is handed
	// back so the first fetch still decides whether the breaker closes.
	probing := s.breaker.State() != breaker.Closed
	if probing {
		if err := s.breaker.Allow(); err != nil {
			return tasks, ""
		}
	}
	urls, exhausted, err := s.comp.Collector.DiscoverURLs(ctx, want)
	if err != nil {
		kind := harvest.KindOf(err)
		if ctx.Err() != nil {
			if probing {
				s.breaker.Release()
			}
			s.pending = append(tasks, s.pending...)
			return nil, StopCancelled
		}
		s.report.DiscoveryFailures++
		s.logger.Warn("url discovery failed", zap.String("kind", string(kind)), zap.Error(err))
		if kind == harvest.KindPermanent || kind == harvest.KindConfiguration {
			if probing {
				s.breaker.Release()
			}
			s.pending = append(tasks, s.pending...)
			return nil, StopCollectorFailed
		}
		s.breaker.RecordFailure()
		return tasks, ""
	}
	if probing {
		s.breaker.Release()
	}
	s.exhausted = exhausted
	if len(urls) > want {
		urls = urls[:want]
	}
	for _, u := range urls {
		if !s.run.seen.Claim(u) {
			s.report.SkippedDuplicate++
			s.run.emit(progress.Event{
				Stage:   progress.StageFetchDone,
				Source:  s.cfg.Name,
				URL:     u,
				Outcome: string(harvest.OutcomeSkippedDuplicate),
				Attempt: 1,
			})
			continue
		}
		tasks = append(tasks, harvest.FetchTask{Source: s.cfg.Name, URL: u, Attempt: 1})
	}
	return tasks, ""
}

// dispatch submits tasks to the shared pool, then waits for every submitted
// task to report back. See window for how many may be in flight at once.
func (s *stream) dispatch(ctx context.Context, tasks []harvest.FetchTask) {
	for i, task := range tasks {
		for s.inFlight >= s.window() {
			s.handle(ctx, <-s.results)
		}
		if !s.run.reserveAttempt() {
			s.pending = append(s.pending, tasks[i:]...)
			break
		}
		if err := s.breaker.Allow(); err != nil {
			s.run.releaseAttempt()
			rest := tasks[i:]
			s.report.ShortCircuited += len(rest)
			s.pending = append(s.pending, rest...)
			s.logger.Debug("circuit open, deferring tasks", zap.Int("tasks", len(rest)))
			break
		}
		err := s.run.pool.Submit(ctx, scheduler.Job{
			Task:    task,
			Run:     func(ctx context.Context) harvest.FetchResult { return s.execute(ctx, task) },
			Deliver: func(res harvest.FetchResult) { s.results <- res },
		})
		if err != nil {
			s.run.releaseAttempt()
			s.pending = append(s.pending, tasks[i:]...)
			if !errors.Is(err, scheduler.ErrPoolClosed) && ctx.Err() == nil {
				s.logger.Warn("submit failed", zap.Error(err))
			}
			break
		}
		s.inFlight++
	}
	for s.inFlight > 0 {
		s.handle(ctx, <-s.results)
	}
}

// window is the in-flight limit for the next submission: ConcurrencyLimit,
// narrowed to the failures a closed breaker can still absorb so it opens
// before any call past the threshold goes out. Outside Closed only the probe
// may be in flight.
func (s *stream) window() int {
	limit := max(s.cfg.ConcurrencyLimit, 1)
	snap := s.breaker.Snapshot()
	if snap.State != breaker.Closed {
		return 1
	}
	return max(min(limit, snap.Budget()), 1)
}

// execute runs on a pool worker: fetch, then extract.
func (s *stream) execute(ctx context.Context, task harvest.FetchTask) harvest.FetchResult {
	start := time.Now()
	res := harvest.FetchResult{Source: task.Source, URL: task.URL, Attempt: task.Attempt}
	fail := func(err error) harvest.FetchResult {
		res.Outcome = harvest.OutcomeFailure
		res.Kind = harvest.KindOf(err)
		res.Err = err
		res.Latency = time.Since(start)
		return res
	}

	page, err := s.comp.Fetcher.Fetch(ctx, task.URL)
	if err != nil {
		return fail(err)
	}
	article, err := s.comp.Extractor.Extract(task.URL, page.Body)
	if err != nil {
		return fail(err)
	}
	article.URL = task.URL
	if article.ContentHash == "" {
		hash, err := s.run.hasher.Hash([]byte(article.Body))
		if err != nil {
			return fail(harvest.Permanent("hash", err))
		}
		article.ContentHash = hash
	}
	res.Outcome = harvest.OutcomeSuccess
	res.Article = &article
	res.Latency = time.Since(start)
	return res
}

func (s *stream) handle(ctx context.Context, res harvest.FetchResult) {
	s.inFlight--
	s.report.Attempted++
	evt := progress.Event{
		Stage:   progress.StageFetchDone,
		Source:  s.cfg.Name,
		URL:     res.URL,
		Outcome: string(res.Outcome),
		Kind:    string(res.Kind),
		Attempt: res.Attempt,
		Dur:     res.Latency,
	}
	if res.Err != nil {
		evt.Note = res.Err.Error()
	}
	s.run.emit(evt)

	if res.Succeeded() {
		s.report.Succeeded++
		s.breaker.RecordSuccess()
		s.degrade.Record(true)
		s.persist(ctx, res)
		return
	}

	s.report.Failed++
	s.breaker.RecordFailure()
	s.degrade.Record(false)
	s.logger.Debug("fetch failed",
		zap.String("url", res.URL),
		zap.Int("attempt", res.Attempt),
		zap.String("kind", string(res.Kind)),
		zap.Error(res.Err),
	)
	if res.Kind.Retryable() && res.Attempt < s.run.cfg.MaxAttempts {
		s.report.Retries++
		s.pending = append(s.pending, harvest.FetchTask{Source: res.Source, URL: res.URL, Attempt: res.Attempt + 1})
	}
}

func (s *stream) persist(ctx context.Context, res harvest.FetchResult) {
	article := *res.Article
	article.Source = s.cfg.Name
	article.RunID = s.run.id
	if article.FetchedAt.IsZero() {
		article.FetchedAt = s.run.clock.Now()
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.run.cfg.PersistTimeout)
	defer cancel()
	status, err := s.run.sink.Persist(pctx, article)

	evt := progress.Event{Stage: progress.StagePersistDone, Source: s.cfg.Name, URL: article.URL, Attempt: res.Attempt}
	switch {
	case err != nil:
		s.report.PersistFailed++
		evt.Outcome = "failed"
		evt.Kind = string(harvest.KindPersist)
		evt.Note = err.Error()
		s.logger.Warn("persist failed", zap.String("url", article.URL), zap.Error(err))
	case status == harvest.PersistDuplicate:
		s.report.SkippedDuplicate++
		evt.Outcome = string(status)
	default:
		s.report.Persisted++
		evt.Outcome = string(harvest.PersistAck)
	}
	s.run.emit(evt)
}

func (s *stream) onTransition(from, to breaker.State) {
	s.logger.Info("circuit breaker transition", zap.Stringer("from", from), zap.Stringer("to", to))
	s.run.emit(progress.Event{
		Stage:  progress.StageBreakerTransition,
		Source: s.cfg.Name,
		From:   from.String(),
		To:     to.String(),
	})
}

func (s *stream) onResize(from, to int) {
	s.logger.Info("batch size changed", zap.Int("from", from), zap.Int("to", to))
	s.run.emit(progress.Event{
		Stage:         progress.StageBatchResize,
		Source:        s.cfg.Name,
		PrevBatchSize: from,
		BatchSize:     to,
	})
}

func (s *stream) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
