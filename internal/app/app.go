// Package app builds the long-lived harvester services from configuration
// and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/api"
	"github.com/JakeFAU/article-harvester/internal/clock/system"
	"github.com/JakeFAU/article-harvester/internal/config"
	"github.com/JakeFAU/article-harvester/internal/degrade"
	headlessfetcher "github.com/JakeFAU/article-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/hash/sha256"
	"github.com/JakeFAU/article-harvester/internal/id/uuid"
	"github.com/JakeFAU/article-harvester/internal/orchestrator"
	"github.com/JakeFAU/article-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/article-harvester/internal/progress"
	progresssinks "github.com/JakeFAU/article-harvester/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/article-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/article-harvester/internal/registry"
	"github.com/JakeFAU/article-harvester/internal/schedule"
	"github.com/JakeFAU/article-harvester/internal/sink"
	gcssink "github.com/JakeFAU/article-harvester/internal/sink/gcs"
	localsink "github.com/JakeFAU/article-harvester/internal/sink/local"
	memorysink "github.com/JakeFAU/article-harvester/internal/sink/memory"
	pgsink "github.com/JakeFAU/article-harvester/internal/sink/postgres"
)

// App holds the services shared by the run, serve and sources commands.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	sink         harvest.Sink
	hub          *progress.Hub
	tracker      *progresssinks.Tracker
	metrics      *prometheus.Registry

	closers []closer

	running atomic.Bool
	wg      sync.WaitGroup
	mu      sync.RWMutex
	latest  *harvest.RunReport
	// bgCtx parents runs started through TriggerRun; Close cancels it.
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Deps lets callers replace infrastructure that Build would otherwise create
// from configuration. Nil fields are built.
type Deps struct {
	Sink     harvest.Sink
	Registry *registry.Registry
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, deps Deps) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bgCtx, bgCancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &App{
		cfg:      cfg,
		logger:   logger,
		metrics:  prometheus.NewRegistry(),
		tracker:  progresssinks.NewTracker(0),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
	if err := a.build(ctx, deps); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, deps Deps) error {
	a.logger.Info("building application dependencies", zap.String("sink", a.cfg.Sink.Type))
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	promSink, err := progresssinks.NewPrometheusSink(a.metrics)
	if err != nil {
		return err
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")},
		progresssinks.NewLogSink(a.logger.Named("progress")),
		promSink,
		a.tracker,
	)
	a.onClose("progress hub", a.hub.Close)

	a.registry = deps.Registry
	if a.registry == nil {
		a.registry, err = a.buildRegistry(promSink)
		if err != nil {
			return err
		}
	}

	a.sink = deps.Sink
	if a.sink == nil {
		a.sink, err = a.buildSink(ctx)
		if err != nil {
			return err
		}
	}
	if a.cfg.PubSub.Enabled {
		if a.sink, err = a.wrapPublishing(ctx, a.sink); err != nil {
			return err
		}
	}

	run := a.cfg.Run
	a.orchestrator, err = orchestrator.New(orchestrator.Config{
		Workers:        run.Workers,
		TaskTimeout:    run.TaskTimeout,
		MaxAttempts:    run.MaxAttemptsPerURL,
		MaxTotal:       run.MaxTotalAttempts,
		MaxCycles:      run.MaxCycles,
		CycleInterval:  run.CycleInterval,
		PersistTimeout: run.PersistTimeout,
		Degrade: degrade.Config{
			Window:              a.cfg.Degradation.Window,
			LowWater:            a.cfg.Degradation.LowWater,
			HighWater:           a.cfg.Degradation.HighWater,
			ShrinkFactor:        a.cfg.Degradation.ShrinkFactor,
			GrowthFactor:        a.cfg.Degradation.GrowthFactor,
			RecoveryEvaluations: a.cfg.Degradation.RecoveryEvaluations,
		},
	}, orchestrator.Deps{
		Registry: a.registry,
		Sink:     a.sink,
		Emitter:  a.hub,
		Clock:    system.New(),
		IDs:      uuid.New(),
		Hasher:   sha256.New(),
		Logger:   a.logger.Named("orchestrator"),
	})
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}
	return nil
}

func (a *App) buildRegistry(promSink *progresssinks.PrometheusSink) (*registry.Registry, error) {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.HTTP.RatePerSecond,
		DefaultBurst: a.cfg.HTTP.Burst,
		OnDelay:      promSink.ObserveRateLimitDelay,
	})
	deps := registry.Deps{
		Logger:        a.logger.Named("registry"),
		UserAgent:     a.cfg.HTTP.UserAgent,
		HTTPTimeout:   a.cfg.HTTP.Timeout,
		MaxBodyBytes:  a.cfg.HTTP.MaxBodyBytes,
		RespectRobots: a.cfg.HTTP.RespectRobots,
		Limiter:       limiter,
	}
	if a.cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.HTTP.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavigationTimeout,
			SettleDelay:       a.cfg.Headless.SettleDelay,
			WaitSelector:      a.cfg.Headless.WaitSelector,
			MaxBodyBytes:      int64(a.cfg.HTTP.MaxBodyBytes),
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		deps.Headless = headless
		a.onClose("headless browser", func(context.Context) error {
			headless.Close()
			return nil
		})
		a.logger.Info("headless fetcher enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}
	return registry.NewDefault(deps), nil
}

func (a *App) buildSink(ctx context.Context) (harvest.Sink, error) {
	switch a.cfg.Sink.Type {
	case config.SinkLocal:
		s, err := localsink.New(localsink.Config{BaseDir: a.cfg.Sink.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local sink init failed: %w", err)
		}
		a.logger.Info("using local sink", zap.String("path", a.cfg.Sink.Local.BaseDir))
		return s, nil
	case config.SinkPostgres:
		pg := a.cfg.Sink.Postgres
		s, err := pgsink.New(ctx, pgsink.Config{
			DSN:             pg.DSN,
			Table:           pg.Table,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
			AutoMigrate:     pg.AutoMigrate,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres sink init failed: %w", err)
		}
		a.onClose("postgres sink", func(context.Context) error { return s.Close() })
		a.logger.Info("using postgres sink", zap.String("table", pg.Table))
		return s, nil
	case config.SinkGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs client", func(context.Context) error { return client.Close() })
		s, err := gcssink.New(client, gcssink.Config{Bucket: a.cfg.Sink.GCS.Bucket, Prefix: a.cfg.Sink.GCS.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs sink init failed: %w", err)
		}
		a.logger.Info("using gcs sink", zap.String("bucket", a.cfg.Sink.GCS.Bucket))
		return s, nil
	default:
		a.logger.Info("using in-memory sink")
		return memorysink.New(), nil
	}
}

func (a *App) wrapPublishing(ctx context.Context, next harvest.Sink) (harvest.Sink, error) {
	client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	publisher, err := pubsubpublisher.New(client, a.cfg.PubSub.Attrs)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	a.onClose("pubsub publisher", func(context.Context) error { return publisher.Close() })
	wrapped, err := sink.NewPublishing(next, publisher, a.cfg.PubSub.TopicName, a.logger.Named("publishing"))
	if err != nil {
		return nil, err
	}
	a.logger.Info("pubsub notifications enabled",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return wrapped, nil
}

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Sources returns the configured sources with defaults applied.
func (a *App) Sources() []harvest.SourceConfig {
	return a.cfg.SourceConfigs()
}

// Registry exposes the component registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// RunOnce performs a single run over the configured sources. It refuses to
// start while another run is active.
func (a *App) RunOnce(ctx context.Context) (harvest.RunReport, error) {
	if !a.running.CompareAndSwap(false, true) {
		return harvest.RunReport{}, harvest.ErrRunInProgress
	}
	defer a.running.Store(false)
	return a.run(ctx)
}

func (a *App) run(ctx context.Context) (harvest.RunReport, error) {
	report, err := a.orchestrator.Run(ctx, a.Sources())
	if err != nil {
		a.logger.Error("run failed", zap.Error(err))
		return report, err
	}
	a.mu.Lock()
	a.latest = &report
	a.mu.Unlock()
	return report, nil
}

// TriggerRun starts a run in the background. It returns
// harvest.ErrRunInProgress when a run is already active.
func (a *App) TriggerRun() error {
	if !a.running.CompareAndSwap(false, true) {
		return harvest.ErrRunInProgress
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.running.Store(false)
		_, _ = a.run(a.bgCtx)
	}()
	return nil
}

// LatestReport returns the report of the most recent completed run.
func (a *App) LatestReport() (harvest.RunReport, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return harvest.RunReport{}, false
	}
	return *a.latest, true
}

// Tracker exposes live run progress.
func (a *App) Tracker() *progresssinks.Tracker {
	return a.tracker
}

// Ready reports whether the sink can be reached.
func (a *App) Ready(ctx context.Context) error {
	if p, ok := a.sink.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Handler builds the admin HTTP handler.
func (a *App) Handler() (http.Handler, error) {
	srv, err := api.NewServer(api.Deps{
		Runner:     a,
		Tracker:    a.tracker,
		Gatherer:   a.metrics,
		Registerer: a.metrics,
		Ready:      a.Ready,
		Logger:     a.logger.Named("api"),
		APIKey:     a.cfg.Server.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("api init failed: %w", err)
	}
	return srv.Handler(), nil
}

// Serve runs the admin server and the optional cron schedule until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}

	if spec := a.cfg.Schedule.Cron; spec != "" {
		runner, err := schedule.New(ctx, spec, func(ctx context.Context) {
			if _, err := a.RunOnce(ctx); err != nil {
				a.logger.Warn("scheduled run failed", zap.Error(err))
			}
		}, a.logger.Named("schedule"))
		if err != nil {
			return err
		}
		runner.Start()
		defer runner.Stop()
	}
	if a.cfg.Schedule.RunOnStart {
		if err := a.TriggerRun(); err != nil {
			a.logger.Warn("startup run skipped", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

// Close cancels background runs, waits for them and releases resources in
// reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	a.bgCancel()
	a.wg.Wait()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
