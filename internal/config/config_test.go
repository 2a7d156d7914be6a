package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
run:
  workers: 12
  task_timeout: 45s
  max_total_attempts: 500
  batch_size: 30
breaker:
  failure_threshold: 7
  cooldown: 2m
sink:
  type: local
  local:
    base_dir: /var/lib/harvest
schedule:
  cron: "0 */15 * * * *"
sources:
  - name: wire
    base_url: https://wire.example.com/latest
    collector: listing
    extractor: generic
    options:
      link_pattern: /story/
  - name: archive
    base_url: https://archive.example.com
    enabled: false
    collector: sitemap
    extractor: selector
    max_articles_per_cycle: 5
    min_batch_size: 10
    cooldown: 10s
    options:
      body_selector: div.article-body
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 12, cfg.Run.Workers)
	require.Equal(t, 45*time.Second, cfg.Run.TaskTimeout)
	require.Equal(t, 500, cfg.Run.MaxTotalAttempts)
	require.Equal(t, 3, cfg.Run.MaxAttemptsPerURL)
	require.Equal(t, SinkLocal, cfg.Sink.Type)
	require.Equal(t, "/var/lib/harvest", cfg.Sink.Local.BaseDir)
	require.Equal(t, "0 */15 * * * *", cfg.Schedule.Cron)

	sources := cfg.SourceConfigs()
	require.Len(t, sources, 2)

	wire := sources[0]
	require.True(t, wire.Enabled)
	require.Equal(t, "listing", wire.CollectorRef)
	require.Equal(t, 30, wire.MaxArticlesPerCycle)
	require.Equal(t, 4, wire.ConcurrencyLimit)
	require.Equal(t, 7, wire.FailureThreshold)
	require.Equal(t, 2*time.Minute, wire.Cooldown)
	require.Equal(t, 1, wire.MinBatchSize)
	require.InDelta(t, 1.0, wire.RatePerSecond, 0.001)
	require.Equal(t, "/story/", wire.Option("link_pattern", ""))

	archive := sources[1]
	require.False(t, archive.Enabled)
	require.Equal(t, 5, archive.MaxArticlesPerCycle)
	require.Equal(t, 5, archive.MinBatchSize)
	require.Equal(t, 10*time.Second, archive.Cooldown)
	require.Equal(t, "div.article-body", archive.Option("body_selector", ""))
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, SinkMemory, cfg.Sink.Type)
	require.Equal(t, 8, cfg.Run.Workers)
	require.Equal(t, 60*time.Second, cfg.Breaker.Cooldown)
	require.Empty(t, cfg.SourceConfigs())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid workers", mutate: func(c *Config) { c.Run.Workers = 0 }, want: "run.workers must be > 0"},
		{name: "invalid attempts", mutate: func(c *Config) { c.Run.MaxAttemptsPerURL = 0 }, want: "run.max_attempts_per_url"},
		{name: "negative cap", mutate: func(c *Config) { c.Run.MaxTotalAttempts = -1 }, want: "run.max_total_attempts"},
		{name: "invalid threshold", mutate: func(c *Config) { c.Breaker.FailureThreshold = 0 }, want: "breaker.failure_threshold"},
		{name: "inverted watermarks", mutate: func(c *Config) { c.Degradation.LowWater = 0.9 }, want: "degradation.low_water"},
		{name: "shrink factor", mutate: func(c *Config) { c.Degradation.ShrinkFactor = 1 }, want: "degradation.shrink_factor"},
		{name: "headless parallel", mutate: func(c *Config) {
			c.Headless.Enabled = true
			c.Headless.MaxParallel = 0
		}, want: "headless.max_parallel"},
		{name: "unknown sink", mutate: func(c *Config) { c.Sink.Type = "s3" }, want: `sink.type "s3"`},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Sink.Type = SinkPostgres }, want: "sink.postgres.dsn"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Sink.Type = SinkGCS }, want: "sink.gcs.bucket"},
		{name: "pubsub without topic", mutate: func(c *Config) {
			c.PubSub.Enabled = true
			c.PubSub.ProjectID = "proj"
		}, want: "pubsub.project_id"},
		{name: "unnamed source", mutate: func(c *Config) { c.Sources = []SourceEntry{{BaseURL: "https://x.example.com"}} }, want: "sources[0].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.want), "got %v", err)
			require.Equal(t, harvest.KindConfiguration, harvest.KindOf(err))
		})
	}
}
