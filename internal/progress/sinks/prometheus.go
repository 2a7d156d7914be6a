package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/article-harvester/internal/progress"
)

// Breaker state values exported by harvest_breaker_state.
var breakerStateValue = map[string]float64{
	"closed":    0,
	"half_open": 1,
	"open":      2,
}

// PrometheusSink exports harvesting metrics. It owns every collector it
// registers, so one instance should exist per registry.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   prometheus.Histogram

	fetchResults  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	persisted     *prometheus.CounterVec
	cycles        *prometheus.CounterVec

	breakerTransitions *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	batchSize          *prometheus.GaugeVec

	rateLimitDelay *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_runs_started_total",
			Help: "Total harvesting runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_runs_completed_total",
			Help: "Total harvesting runs completed partitioned by stop reason.",
		}, []string{"stop_reason"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_runs_running",
			Help: "Current number of running harvests.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvest_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		fetchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_fetch_results_total",
			Help: "Fetch task results partitioned by source, outcome and error kind.",
		}, []string{"source", "outcome", "kind"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_fetch_duration_seconds",
			Help:    "Fetch plus extraction latency per task.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"source", "outcome"}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_persist_total",
			Help: "Sink writes partitioned by source and status.",
		}, []string{"source", "status"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_cycles_total",
			Help: "Source cycles partitioned by result (done, skipped).",
		}, []string{"source", "result"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_breaker_transitions_total",
			Help: "Circuit breaker transitions partitioned by source and target state.",
		}, []string{"source", "to"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvest_breaker_state",
			Help: "Circuit breaker state per source (0 closed, 1 half_open, 2 open).",
		}, []string{"source"}),
		batchSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvest_batch_size",
			Help: "Current batch size per source.",
		}, []string{"source"}),
		rateLimitDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_rate_limit_delay_seconds",
			Help:    "Time spent waiting on per-host rate limits.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"host"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.fetchResults,
		s.fetchDuration,
		s.persisted,
		s.cycles,
		s.breakerTransitions,
		s.breakerState,
		s.batchSize,
		s.rateLimitDelay,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.runsRunning.Inc()
	case progress.StageRunDone:
		reason := evt.Note
		if reason == "" {
			reason = "unknown"
		}
		s.runsCompleted.WithLabelValues(reason).Inc()
		s.runsRunning.Dec()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageCycleStart:
		if evt.BatchSize > 0 {
			s.batchSize.WithLabelValues(evt.Source).Set(float64(evt.BatchSize))
		}
	case progress.StageCycleDone:
		s.cycles.WithLabelValues(evt.Source, "done").Inc()
	case progress.StageCycleSkipped:
		s.cycles.WithLabelValues(evt.Source, "skipped").Inc()
	case progress.StageFetchDone:
		kind := evt.Kind
		if kind == "" {
			kind = "none"
		}
		s.fetchResults.WithLabelValues(evt.Source, evt.Outcome, kind).Inc()
		if evt.Dur > 0 {
			s.fetchDuration.WithLabelValues(evt.Source, evt.Outcome).Observe(evt.Dur.Seconds())
		}
	case progress.StagePersistDone:
		s.persisted.WithLabelValues(evt.Source, evt.Outcome).Inc()
	case progress.StageBreakerTransition:
		s.breakerTransitions.WithLabelValues(evt.Source, evt.To).Inc()
		if v, ok := breakerStateValue[evt.To]; ok {
			s.breakerState.WithLabelValues(evt.Source).Set(v)
		}
	case progress.StageBatchResize:
		s.batchSize.WithLabelValues(evt.Source).Set(float64(evt.BatchSize))
	}
}

// ObserveRateLimitDelay records a politeness wait. It matches the
// ratelimit.Config OnDelay hook.
func (s *PrometheusSink) ObserveRateLimitDelay(host string, waited time.Duration) {
	s.rateLimitDelay.WithLabelValues(host).Observe(waited.Seconds())
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
