package registry

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/article-harvester/internal/collector"
	"github.com/JakeFAU/article-harvester/internal/extractor"
	autofetcher "github.com/JakeFAU/article-harvester/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/article-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/headless/detector"
)

// NewDefault returns a registry with the built-in components:
//
//	collectors: listing, sitemap, static
//	extractors: selector, generic
//	fetchers:   http, headless, auto
func NewDefault(deps Deps) *Registry {
	r := New(deps)

	r.RegisterFetcher("http", newHTTPFetcher)
	r.RegisterFetcher("headless", func(_ harvest.SourceConfig, d Deps) (harvest.Fetcher, error) {
		if d.Headless == nil {
			return nil, harvest.Configurationf("headless fetcher is not enabled")
		}
		return d.Headless, nil
	})
	r.RegisterFetcher("auto", func(cfg harvest.SourceConfig, d Deps) (harvest.Fetcher, error) {
		if d.Headless == nil {
			return nil, harvest.Configurationf("auto fetcher needs the headless fetcher to be enabled")
		}
		static, err := newHTTPFetcher(cfg, d)
		if err != nil {
			return nil, err
		}
		minBytes, err := intOption(cfg, "promote_min_bytes")
		if err != nil {
			return nil, err
		}
		heuristic := detector.NewHeuristic(minBytes, splitList(cfg.Option("promote_markers", ""))...)
		return autofetcher.New(static, d.Headless, heuristic, d.Logger)
	})

	r.RegisterCollector("listing", func(cfg harvest.SourceConfig, _ Deps) (harvest.Collector, error) {
		fetcher, err := r.ResolveFetcher(cfg)
		if err != nil {
			return nil, err
		}
		return newListing(cfg, fetcher)
	})
	r.RegisterCollector("sitemap", func(cfg harvest.SourceConfig, _ Deps) (harvest.Collector, error) {
		fetcher, err := r.ResolveFetcher(cfg)
		if err != nil {
			return nil, err
		}
		return newSitemap(cfg, fetcher)
	})
	r.RegisterCollector("static", func(cfg harvest.SourceConfig, _ Deps) (harvest.Collector, error) {
		urls := splitList(cfg.Option("urls", ""))
		if len(urls) == 0 {
			return nil, fmt.Errorf("static collector requires the urls option")
		}
		return collector.NewStatic(urls), nil
	})

	r.RegisterExtractor("selector", func(cfg harvest.SourceConfig, _ Deps) (harvest.Extractor, error) {
		ecfg, err := extractorConfig(cfg)
		if err != nil {
			return nil, err
		}
		return extractor.NewSelector(ecfg)
	})
	r.RegisterExtractor("generic", func(cfg harvest.SourceConfig, _ Deps) (harvest.Extractor, error) {
		ecfg, err := extractorConfig(cfg)
		if err != nil {
			return nil, err
		}
		return extractor.NewGeneric(ecfg), nil
	})
	return r
}

func newHTTPFetcher(cfg harvest.SourceConfig, d Deps) (harvest.Fetcher, error) {
	fcfg := collyfetcher.Config{
		UserAgent:     d.UserAgent,
		RespectRobots: d.RespectRobots,
		Timeout:       d.HTTPTimeout,
		MaxBodyBytes:  d.MaxBodyBytes,
	}
	if ua := cfg.Option("user_agent", ""); ua != "" {
		fcfg.UserAgent = ua
	}
	if d.Limiter != nil {
		if cfg.BaseURL != "" {
			d.Limiter.SetRate(harvest.HostOf(cfg.BaseURL), cfg.RatePerSecond)
		}
		fcfg.Limiter = d.Limiter
	}
	return collyfetcher.New(fcfg), nil
}

func newListing(cfg harvest.SourceConfig, fetcher harvest.Fetcher) (harvest.Collector, error) {
	lcfg := collector.ListingConfig{
		ListingURLs:  splitList(cfg.Option("listing_urls", cfg.BaseURL)),
		LinkSelector: cfg.Option("link_selector", ""),
		PageParam:    cfg.Option("page_param", ""),
	}
	pattern, err := compileOption(cfg, "link_pattern")
	if err != nil {
		return nil, err
	}
	lcfg.LinkPattern = pattern
	if lcfg.AllowOffsite, err = boolOption(cfg, "allow_offsite"); err != nil {
		return nil, err
	}
	if lcfg.MaxPages, err = intOption(cfg, "max_pages"); err != nil {
		return nil, err
	}
	return collector.NewListing(lcfg, fetcher)
}

func newSitemap(cfg harvest.SourceConfig, fetcher harvest.Fetcher) (harvest.Collector, error) {
	def := ""
	if base, err := url.Parse(cfg.BaseURL); err == nil && base.IsAbs() {
		def = base.ResolveReference(&url.URL{Path: "/sitemap.xml"}).String()
	}
	pattern, err := compileOption(cfg, "link_pattern")
	if err != nil {
		return nil, err
	}
	return collector.NewSitemap(splitList(cfg.Option("sitemap_urls", def)), pattern, fetcher)
}

func extractorConfig(cfg harvest.SourceConfig) (extractor.Config, error) {
	minChars, err := intOption(cfg, "min_body_chars")
	if err != nil {
		return extractor.Config{}, err
	}
	return extractor.Config{
		TitleSelector:  cfg.Option("title_selector", ""),
		BodySelector:   cfg.Option("body_selector", ""),
		AuthorSelector: cfg.Option("author_selector", ""),
		DateSelector:   cfg.Option("date_selector", ""),
		DateLayout:     cfg.Option("date_layout", ""),
		MinBodyChars:   minChars,
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func compileOption(cfg harvest.SourceConfig, key string) (*regexp.Regexp, error) {
	raw := cfg.Option(key, "")
	if raw == "" {
		return nil, nil
	}
	re, err := regexp.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("option %s: %w", key, err)
	}
	return re, nil
}

func intOption(cfg harvest.SourceConfig, key string) (int, error) {
	raw := cfg.Option(key, "")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", key, err)
	}
	return n, nil
}

func boolOption(cfg harvest.SourceConfig, key string) (bool, error) {
	raw := cfg.Option(key, "")
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("option %s: %w", key, err)
	}
	return b, nil
}
