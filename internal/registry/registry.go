// Package registry maps the component references named in source
// configuration to concrete collectors, extractors and fetchers.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/policy/ratelimit"
)

// DefaultFetcher is used when a source leaves fetcher_ref empty.
const DefaultFetcher = "http"

// Deps carries the shared infrastructure factories may draw on.
type Deps struct {
	Logger        *zap.Logger
	UserAgent     string
	HTTPTimeout   time.Duration
	MaxBodyBytes  int
	RespectRobots bool
	Limiter       *ratelimit.Limiter
	// Headless is nil unless a browser fetcher was configured.
	Headless harvest.Fetcher
}

// CollectorFactory builds a collector for one source.
type CollectorFactory func(harvest.SourceConfig, Deps) (harvest.Collector, error)

// ExtractorFactory builds an extractor for one source.
type ExtractorFactory func(harvest.SourceConfig, Deps) (harvest.Extractor, error)

// FetcherFactory builds the raw-content fetcher for one source.
type FetcherFactory func(harvest.SourceConfig, Deps) (harvest.Fetcher, error)

// Components is everything the orchestrator needs to run one source.
type Components struct {
	Config    harvest.SourceConfig
	Collector harvest.Collector
	Extractor harvest.Extractor
	Fetcher   harvest.Fetcher
}

// Registry resolves source configuration into components.
type Registry struct {
	mu         sync.RWMutex
	deps       Deps
	collectors map[string]CollectorFactory
	extractors map[string]ExtractorFactory
	fetchers   map[string]FetcherFactory
}

// New returns an empty registry.
func New(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Registry{
		deps:       deps,
		collectors: make(map[string]CollectorFactory),
		extractors: make(map[string]ExtractorFactory),
		fetchers:   make(map[string]FetcherFactory),
	}
}

// RegisterCollector binds name to f, replacing any earlier binding.
func (r *Registry) RegisterCollector(name string, f CollectorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[name] = f
}

// RegisterExtractor binds name to f, replacing any earlier binding.
func (r *Registry) RegisterExtractor(name string, f ExtractorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[name] = f
}

// RegisterFetcher binds name to f, replacing any earlier binding.
func (r *Registry) RegisterFetcher(name string, f FetcherFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[name] = f
}

// Resolve builds the collector and extractor for cfg. It has no side effects
// beyond construction.
func (r *Registry) Resolve(cfg harvest.SourceConfig) (harvest.Collector, harvest.Extractor, error) {
	if !cfg.Enabled {
		return nil, nil, harvest.Configurationf("source %q is disabled", cfg.Name)
	}
	r.mu.RLock()
	cf, okC := r.collectors[cfg.CollectorRef]
	ef, okE := r.extractors[cfg.ExtractorRef]
	r.mu.RUnlock()
	if !okC {
		return nil, nil, harvest.Configurationf("source %q: unknown collector_ref %q", cfg.Name, cfg.CollectorRef)
	}
	if !okE {
		return nil, nil, harvest.Configurationf("source %q: unknown extractor_ref %q", cfg.Name, cfg.ExtractorRef)
	}

	collector, err := cf(cfg, r.deps)
	if err != nil {
		return nil, nil, asConfigError(cfg.Name, "collector", err)
	}
	extractor, err := ef(cfg, r.deps)
	if err != nil {
		return nil, nil, asConfigError(cfg.Name, "extractor", err)
	}
	return collector, extractor, nil
}

// ResolveFetcher builds the raw-content fetcher for cfg.
func (r *Registry) ResolveFetcher(cfg harvest.SourceConfig) (harvest.Fetcher, error) {
	ref := cfg.FetcherRef
	if ref == "" {
		ref = DefaultFetcher
	}
	r.mu.RLock()
	ff, ok := r.fetchers[ref]
	r.mu.RUnlock()
	if !ok {
		return nil, harvest.Configurationf("source %q: unknown fetcher_ref %q", cfg.Name, ref)
	}
	fetcher, err := ff(cfg, r.deps)
	if err != nil {
		return nil, asConfigError(cfg.Name, "fetcher", err)
	}
	return fetcher, nil
}

// ResolveAll builds components for every enabled source and returns the
// names of disabled ones. The first failure aborts.
func (r *Registry) ResolveAll(sources []harvest.SourceConfig) ([]Components, []string, error) {
	var (
		out      []Components
		disabled []string
	)
	for _, cfg := range sources {
		if !cfg.Enabled {
			disabled = append(disabled, cfg.Name)
			continue
		}
		collector, extractor, err := r.Resolve(cfg)
		if err != nil {
			return nil, nil, err
		}
		fetcher, err := r.ResolveFetcher(cfg)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, Components{Config: cfg, Collector: collector, Extractor: extractor, Fetcher: fetcher})
	}
	return out, disabled, nil
}

// Validate checks every source up front so a bad entry fails the run before
// any fetching starts.
func (r *Registry) Validate(sources []harvest.SourceConfig) error {
	var errs []error
	seen := make(map[string]struct{}, len(sources))
	for i, cfg := range sources {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			errs = append(errs, harvest.Configurationf("sources[%d]: name is required", i))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, harvest.Configurationf("source %q is defined more than once", name))
			continue
		}
		seen[name] = struct{}{}
		if !cfg.Enabled {
			continue
		}
		if cfg.MaxArticlesPerCycle <= 0 {
			errs = append(errs, harvest.Configurationf("source %q: max_articles_per_cycle must be > 0", name))
		}
		if cfg.ConcurrencyLimit <= 0 {
			errs = append(errs, harvest.Configurationf("source %q: concurrency_limit must be > 0", name))
		}
		if cfg.FailureThreshold <= 0 {
			errs = append(errs, harvest.Configurationf("source %q: failure_threshold must be > 0", name))
		}
		if cfg.MinBatchSize <= 0 || cfg.MinBatchSize > cfg.MaxArticlesPerCycle {
			errs = append(errs, harvest.Configurationf("source %q: min_batch_size must be between 1 and max_articles_per_cycle", name))
		}
		if _, _, err := r.Resolve(cfg); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := r.ResolveFetcher(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Names lists the registered references, sorted, keyed by component kind.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"collectors": sortedKeys(r.collectors),
		"extractors": sortedKeys(r.extractors),
		"fetchers":   sortedKeys(r.fetchers),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asConfigError(source, component string, err error) error {
	if harvest.KindOf(err) == harvest.KindConfiguration {
		return err
	}
	return harvest.NewError(harvest.KindConfiguration, "resolve", fmt.Errorf("source %q %s: %w", source, component, err))
}
