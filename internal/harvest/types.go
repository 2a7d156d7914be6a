// Package harvest defines the shared types and capability interfaces used by
// the harvesting orchestrator and its pluggable collaborators.
package harvest

import (
	"time"
)

// SourceConfig describes one content origin. It is resolved once at startup
// and treated as immutable for the duration of a run.
type SourceConfig struct {
	Name                string            `json:"name" yaml:"name"`
	BaseURL             string            `json:"base_url" yaml:"base_url"`
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	CollectorRef        string            `json:"collector_ref" yaml:"collector_ref"`
	ExtractorRef        string            `json:"extractor_ref" yaml:"extractor_ref"`
	FetcherRef          string            `json:"fetcher_ref" yaml:"fetcher_ref"`
	MaxArticlesPerCycle int               `json:"max_articles_per_cycle" yaml:"max_articles_per_cycle"`
	ConcurrencyLimit    int               `json:"concurrency_limit" yaml:"concurrency_limit"`
	FailureThreshold    int               `json:"failure_threshold" yaml:"failure_threshold"`
	Cooldown            time.Duration     `json:"cooldown" yaml:"cooldown"`
	MinBatchSize        int               `json:"min_batch_size" yaml:"min_batch_size"`
	RatePerSecond       float64           `json:"rate_per_second" yaml:"rate_per_second"`
	Options             map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Option returns the named source option or def when unset.
func (c SourceConfig) Option(key, def string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// FetchTask is one unit of extraction work for the scheduler.
type FetchTask struct {
	Source  string
	URL     string
	Attempt int
}

// Outcome classifies a FetchResult.
type Outcome string

// Supported outcomes.
const (
	OutcomeSuccess          Outcome = "success"
	OutcomeFailure          Outcome = "failure"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
)

// FetchResult reports how a FetchTask ended.
type FetchResult struct {
	Source  string
	URL     string
	Attempt int
	Outcome Outcome
	Article *Article
	Kind    ErrorKind
	Err     error
	Latency time.Duration
}

// Succeeded reports whether the task produced an article.
func (r FetchResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess && r.Article != nil
}

// Page is the raw content returned by a Fetcher.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Article is the structured payload an Extractor produces and a Sink stores.
type Article struct {
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
	Body        string    `json:"body"`
	Markdown    string    `json:"markdown,omitempty"`
	ContentHash string    `json:"content_hash"`
	FetchedAt   time.Time `json:"fetched_at"`
	RunID       string    `json:"run_id,omitempty"`
}

// PersistStatus is the non-error outcome of a Sink.Persist call.
type PersistStatus string

// Supported persist statuses.
const (
	PersistAck       PersistStatus = "ack"
	PersistDuplicate PersistStatus = "duplicate_skipped"
)

// RunReport summarizes one complete orchestrator run.
type RunReport struct {
	RunID           string         `json:"run_id" yaml:"run_id"`
	StartedAt       time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time      `json:"finished_at" yaml:"finished_at"`
	StopReason      string         `json:"stop_reason" yaml:"stop_reason"`
	Sources         []SourceReport `json:"sources" yaml:"sources"`
	DisabledSources []string       `json:"disabled_sources,omitempty" yaml:"disabled_sources,omitempty"`
}

// Source returns the report for the named source.
func (r RunReport) Source(name string) (SourceReport, bool) {
	for _, s := range r.Sources {
		if s.Source == name {
			return s, true
		}
	}
	return SourceReport{}, false
}

// Totals sums the per-source counters.
func (r RunReport) Totals() SourceReport {
	total := SourceReport{Source: "total"}
	for _, s := range r.Sources {
		total.Attempted += s.Attempted
		total.Succeeded += s.Succeeded
		total.Failed += s.Failed
		total.SkippedDuplicate += s.SkippedDuplicate
		total.Persisted += s.Persisted
		total.PersistFailed += s.PersistFailed
		total.ShortCircuited += s.ShortCircuited
		total.SkippedCycles += s.SkippedCycles
		total.Retries += s.Retries
		total.Pending += s.Pending
	}
	return total
}

// SourceReport carries the per-source counters of a run.
type SourceReport struct {
	Source            string `json:"source" yaml:"source"`
	Attempted         int    `json:"attempted" yaml:"attempted"`
	Succeeded         int    `json:"succeeded" yaml:"succeeded"`
	Failed            int    `json:"failed" yaml:"failed"`
	SkippedDuplicate  int    `json:"skipped_duplicate" yaml:"skipped_duplicate"`
	Persisted         int    `json:"persisted" yaml:"persisted"`
	PersistFailed     int    `json:"persist_failed" yaml:"persist_failed"`
	ShortCircuited    int    `json:"short_circuited" yaml:"short_circuited"`
	SkippedCycles     int    `json:"skipped_cycles" yaml:"skipped_cycles"`
	Retries           int    `json:"retries" yaml:"retries"`
	DiscoveryFailures int    `json:"discovery_failures" yaml:"discovery_failures"`
	Cycles            int    `json:"cycles" yaml:"cycles"`
	Pending           int    `json:"pending" yaml:"pending"`
	FinalBatchSize    int    `json:"final_batch_size" yaml:"final_batch_size"`
	CircuitState      string `json:"circuit_state_at_end" yaml:"circuit_state_at_end"`
	StopReason        string `json:"stop_reason" yaml:"stop_reason"`
}
