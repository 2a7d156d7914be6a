package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	autofetcher "github.com/JakeFAU/article-harvester/internal/fetcher/auto"
	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/policy/ratelimit"
)

func validSource(name string) harvest.SourceConfig {
	return harvest.SourceConfig{
		Name:                name,
		BaseURL:             "https://example.com/news",
		Enabled:             true,
		CollectorRef:        "listing",
		ExtractorRef:        "generic",
		MaxArticlesPerCycle: 10,
		ConcurrencyLimit:    2,
		FailureThreshold:    5,
		MinBatchSize:        1,
	}
}

type stubFetcher struct{}

func (stubFetcher) Fetch(context.Context, string) (harvest.Page, error) { return harvest.Page{}, nil }

func TestResolveBuiltins(t *testing.T) {
	t.Parallel()

	r := NewDefault(Deps{Limiter: ratelimit.New(ratelimit.Config{})})
	collector, extractor, err := r.Resolve(validSource("wire"))
	require.NoError(t, err)
	require.NotNil(t, collector)
	require.NotNil(t, extractor)

	fetcher, err := r.ResolveFetcher(validSource("wire"))
	require.NoError(t, err)
	require.NotNil(t, fetcher)
}

func TestResolveRejectsDisabledAndUnknown(t *testing.T) {
	t.Parallel()

	r := NewDefault(Deps{})

	disabled := validSource("off")
	disabled.Enabled = false
	_, _, err := r.Resolve(disabled)
	require.Equal(t, harvest.KindConfiguration, harvest.KindOf(err))

	unknown := validSource("odd")
	unknown.CollectorRef = "rss"
	_, _, err = r.Resolve(unknown)
	require.ErrorIs(t, err, harvest.ErrConfiguration)
	require.Contains(t, err.Error(), "rss")

	unknown = validSource("odd")
	unknown.ExtractorRef = "llm"
	_, _, err = r.Resolve(unknown)
	require.ErrorIs(t, err, harvest.ErrConfiguration)
}

func TestFactoryErrorsBecomeConfigurationErrors(t *testing.T) {
	t.Parallel()

	r := NewDefault(Deps{})
	cfg := validSource("bad-pattern")
	cfg.Options = map[string]string{"link_pattern": "("}
	_, _, err := r.Resolve(cfg)
	require.Equal(t, harvest.KindConfiguration, harvest.KindOf(err))

	cfg = validSource("selector")
	cfg.ExtractorRef = "selector"
	_, _, err = r.Resolve(cfg)
	require.Equal(t, harvest.KindConfiguration, harvest.KindOf(err))
}

func TestHeadlessFetcherRequiresBrowser(t *testing.T) {
	t.Parallel()

	cfg := validSource("spa")
	cfg.FetcherRef = "headless"

	_, err := NewDefault(Deps{}).ResolveFetcher(cfg)
	require.Equal(t, harvest.KindConfiguration, harvest.KindOf(err))

	fetcher, err := NewDefault(Deps{Headless: stubFetcher{}}).ResolveFetcher(cfg)
	require.NoError(t, err)
	require.Equal(t, stubFetcher{}, fetcher)
}

func TestAutoFetcherWrapsHTTPAndHeadless(t *testing.T) {
	t.Parallel()

	cfg := validSource("mixed")
	cfg.FetcherRef = "auto"
	cfg.Options = map[string]string{"promote_min_bytes": "512", "promote_markers": "paywall-loader"}

	_, err := NewDefault(Deps{}).ResolveFetcher(cfg)
	require.Equal(t, harvest.KindConfiguration, harvest.KindOf(err))

	fetcher, err := NewDefault(Deps{Headless: stubFetcher{}}).ResolveFetcher(cfg)
	require.NoError(t, err)
	require.IsType(t, &autofetcher.Fetcher{}, fetcher)

	cfg.Options["promote_min_bytes"] = "lots"
	_, err = NewDefault(Deps{Headless: stubFetcher{}}).ResolveFetcher(cfg)
	require.Equal(t, harvest.KindConfiguration, harvest.KindOf(err))
}

func TestCustomFactoryRegistration(t *testing.T) {
	t.Parallel()

	r := NewDefault(Deps{})
	r.RegisterFetcher("stub", func(harvest.SourceConfig, Deps) (harvest.Fetcher, error) {
		return stubFetcher{}, nil
	})
	cfg := validSource("custom")
	cfg.FetcherRef = "stub"
	cfg.CollectorRef = "static"
	cfg.Options = map[string]string{"urls": "https://example.com/a, https://example.com/b"}

	components, disabled, err := r.ResolveAll([]harvest.SourceConfig{cfg, {Name: "idle"}})
	require.NoError(t, err)
	require.Equal(t, []string{"idle"}, disabled)
	require.Len(t, components, 1)
	require.Equal(t, stubFetcher{}, components[0].Fetcher)

	urls, exhausted, err := components[0].Collector.DiscoverURLs(context.Background(), 5)
	require.NoError(t, err)
	require.True(t, exhausted)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, urls)

	require.Contains(t, r.Names()["fetchers"], "stub")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	r := NewDefault(Deps{})
	require.NoError(t, r.Validate([]harvest.SourceConfig{validSource("a"), validSource("b")}))

	bad := validSource("c")
	bad.ConcurrencyLimit = 0
	bad.MinBatchSize = 20
	disabledBroken := harvest.SourceConfig{Name: "d", CollectorRef: "nope"}
	err := r.Validate([]harvest.SourceConfig{validSource("a"), validSource("a"), bad, {}, disabledBroken})
	require.Error(t, err)
	require.Equal(t, harvest.KindConfiguration, harvest.KindOf(err))
	msg := err.Error()
	require.Contains(t, msg, `source "a" is defined more than once`)
	require.Contains(t, msg, "concurrency_limit must be > 0")
	require.Contains(t, msg, "min_batch_size")
	require.Contains(t, msg, "name is required")
	require.NotContains(t, msg, "nope")
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	require.Nil(t, splitList(""))
}
