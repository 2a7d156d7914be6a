// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/logging"
)

// Sink types accepted by sink.type.
const (
	SinkMemory   = "memory"
	SinkLocal    = "local"
	SinkPostgres = "postgres"
	SinkGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
	Run         RunConfig         `mapstructure:"run"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Degradation DegradationConfig `mapstructure:"degradation"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Sink        SinkConfig        `mapstructure:"sink"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Sources     []SourceEntry     `mapstructure:"sources"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig = logging.Config

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// APIKey protects the /v1 routes when set.
	APIKey string `mapstructure:"api_key"`
}

// RunConfig bounds a single run and supplies per-source defaults.
type RunConfig struct {
	Workers           int           `mapstructure:"workers"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
	MaxAttemptsPerURL int           `mapstructure:"max_attempts_per_url"`
	MaxTotalAttempts  int           `mapstructure:"max_total_attempts"`
	MaxCycles         int           `mapstructure:"max_cycles"`
	CycleInterval     time.Duration `mapstructure:"cycle_interval"`
	PersistTimeout    time.Duration `mapstructure:"persist_timeout"`
	BatchSize         int           `mapstructure:"batch_size"`
	ConcurrencyLimit  int           `mapstructure:"concurrency_limit"`
}

// BreakerConfig holds breaker defaults for sources that do not override them.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// DegradationConfig tunes every source's batch-size controller.
type DegradationConfig struct {
	MinBatchSize        int     `mapstructure:"min_batch_size"`
	Window              int     `mapstructure:"window"`
	LowWater            float64 `mapstructure:"low_water"`
	HighWater           float64 `mapstructure:"high_water"`
	ShrinkFactor        float64 `mapstructure:"shrink_factor"`
	GrowthFactor        float64 `mapstructure:"growth_factor"`
	RecoveryEvaluations int     `mapstructure:"recovery_evaluations"`
}

// HTTPConfig configures the default Colly fetcher.
type HTTPConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	WaitSelector      string        `mapstructure:"wait_selector"`
}

// SinkConfig picks and configures the article sink.
type SinkConfig struct {
	Type     string         `mapstructure:"type"`
	Local    LocalConfig    `mapstructure:"local"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	GCS      GCSConfig      `mapstructure:"gcs"`
}

// LocalConfig configures the filesystem sink.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PostgresConfig configures the Postgres sink.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// GCSConfig configures the Cloud Storage sink.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig enables article notifications after each new persist.
type PubSubConfig struct {
	Enabled   bool              `mapstructure:"enabled"`
	ProjectID string            `mapstructure:"project_id"`
	TopicName string            `mapstructure:"topic_name"`
	Attrs     map[string]string `mapstructure:"attributes"`
}

// ScheduleConfig drives periodic runs in serve mode.
type ScheduleConfig struct {
	// Cron uses the six-field format with seconds. Empty disables scheduling.
	Cron       string `mapstructure:"cron"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

// SourceEntry is a source as written in the config file. Zero numeric fields
// inherit the run, breaker and degradation defaults.
type SourceEntry struct {
	Name                string            `mapstructure:"name"`
	BaseURL             string            `mapstructure:"base_url"`
	Enabled             *bool             `mapstructure:"enabled"`
	Collector           string            `mapstructure:"collector"`
	Extractor           string            `mapstructure:"extractor"`
	Fetcher             string            `mapstructure:"fetcher"`
	MaxArticlesPerCycle int               `mapstructure:"max_articles_per_cycle"`
	ConcurrencyLimit    int               `mapstructure:"concurrency_limit"`
	FailureThreshold    int               `mapstructure:"failure_threshold"`
	Cooldown            time.Duration     `mapstructure:"cooldown"`
	MinBatchSize        int               `mapstructure:"min_batch_size"`
	RatePerSecond       float64           `mapstructure:"rate_per_second"`
	Options             map[string]string `mapstructure:"options"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("run.workers", 8)
	v.SetDefault("run.task_timeout", "30s")
	v.SetDefault("run.max_attempts_per_url", 3)
	v.SetDefault("run.max_total_attempts", 0)
	v.SetDefault("run.max_cycles", 50)
	v.SetDefault("run.cycle_interval", "2s")
	v.SetDefault("run.persist_timeout", "10s")
	v.SetDefault("run.batch_size", 20)
	v.SetDefault("run.concurrency_limit", 4)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown", "60s")
	v.SetDefault("degradation.min_batch_size", 1)
	v.SetDefault("degradation.window", 20)
	v.SetDefault("degradation.low_water", 0.5)
	v.SetDefault("degradation.high_water", 0.8)
	v.SetDefault("degradation.shrink_factor", 0.5)
	v.SetDefault("degradation.growth_factor", 2.0)
	v.SetDefault("degradation.recovery_evaluations", 3)
	v.SetDefault("http.user_agent", "article-harvester/0.1")
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.max_body_bytes", 5*1024*1024)
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.rate_per_second", 1.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.navigation_timeout", "25s")
	v.SetDefault("headless.settle_delay", "500ms")
	v.SetDefault("sink.type", SinkMemory)
	v.SetDefault("sink.local.base_dir", "data/articles")
	v.SetDefault("sink.postgres.table", "articles")
	v.SetDefault("sink.postgres.max_conns", 4)
	v.SetDefault("sink.postgres.auto_migrate", true)
	v.SetDefault("sink.gcs.prefix", "articles")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("schedule.run_on_start", false)
}

// Validate enforces required values and reasonable limits. Per-source checks
// that need the component registry happen in registry.Validate.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if c.Server.Port <= 0 {
		add("server.port must be > 0")
	}
	if c.Run.Workers <= 0 {
		add("run.workers must be > 0")
	}
	if c.Run.TaskTimeout <= 0 {
		add("run.task_timeout must be > 0")
	}
	if c.Run.MaxAttemptsPerURL <= 0 {
		add("run.max_attempts_per_url must be > 0")
	}
	if c.Run.MaxTotalAttempts < 0 {
		add("run.max_total_attempts must be >= 0")
	}
	if c.Run.BatchSize <= 0 {
		add("run.batch_size must be > 0")
	}
	if c.Run.ConcurrencyLimit <= 0 {
		add("run.concurrency_limit must be > 0")
	}
	if c.Breaker.FailureThreshold <= 0 {
		add("breaker.failure_threshold must be > 0")
	}
	if c.Breaker.Cooldown <= 0 {
		add("breaker.cooldown must be > 0")
	}
	if d := c.Degradation; d.LowWater < 0 || d.HighWater > 1 || d.LowWater >= d.HighWater {
		add("degradation.low_water must be below degradation.high_water within [0,1]")
	}
	if c.Degradation.ShrinkFactor <= 0 || c.Degradation.ShrinkFactor >= 1 {
		add("degradation.shrink_factor must be in (0,1)")
	}
	if c.Degradation.GrowthFactor <= 1 {
		add("degradation.growth_factor must be > 1")
	}
	if c.HTTP.Timeout <= 0 {
		add("http.timeout must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		add("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Sink.Type {
	case SinkMemory:
	case SinkLocal:
		if c.Sink.Local.BaseDir == "" {
			add("sink.local.base_dir must be set for the local sink")
		}
	case SinkPostgres:
		if c.Sink.Postgres.DSN == "" {
			add("sink.postgres.dsn must be set for the postgres sink")
		}
	case SinkGCS:
		if c.Sink.GCS.Bucket == "" {
			add("sink.gcs.bucket must be set for the gcs sink")
		}
	default:
		add("sink.type %q is not one of memory, local, postgres, gcs", c.Sink.Type)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		add("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	for i, src := range c.Sources {
		if src.Name == "" {
			add("sources[%d].name is required", i)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return harvest.NewError(harvest.KindConfiguration, "config", errors.Join(errs...))
}

// SourceConfigs converts the raw entries into harvest.SourceConfig, filling
// zero fields from the section defaults. Sources are enabled unless they say
// otherwise.
func (c Config) SourceConfigs() []harvest.SourceConfig {
	out := make([]harvest.SourceConfig, 0, len(c.Sources))
	for _, src := range c.Sources {
		sc := harvest.SourceConfig{
			Name:                src.Name,
			BaseURL:             src.BaseURL,
			Enabled:             src.Enabled == nil || *src.Enabled,
			CollectorRef:        src.Collector,
			ExtractorRef:        src.Extractor,
			FetcherRef:          src.Fetcher,
			MaxArticlesPerCycle: orInt(src.MaxArticlesPerCycle, c.Run.BatchSize),
			ConcurrencyLimit:    orInt(src.ConcurrencyLimit, c.Run.ConcurrencyLimit),
			FailureThreshold:    orInt(src.FailureThreshold, c.Breaker.FailureThreshold),
			Cooldown:            src.Cooldown,
			MinBatchSize:        orInt(src.MinBatchSize, c.Degradation.MinBatchSize),
			RatePerSecond:       src.RatePerSecond,
			Options:             src.Options,
		}
		if sc.Cooldown <= 0 {
			sc.Cooldown = c.Breaker.Cooldown
		}
		if sc.RatePerSecond <= 0 {
			sc.RatePerSecond = c.HTTP.RatePerSecond
		}
		if sc.MinBatchSize > sc.MaxArticlesPerCycle {
			sc.MinBatchSize = sc.MaxArticlesPerCycle
		}
		out = append(out, sc)
	}
	return out
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
