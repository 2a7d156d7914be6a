package collector

import (
	"context"
	"strings"
)

// Static hands out a fixed list of URLs, mostly useful for backfills and
// tests.
type Static struct {
	pager *pager
}

// NewStatic returns a collector over urls. Blank entries and repeats are
// dropped.
func NewStatic(urls []string) *Static {
	p := newPager(nil, nil)
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			cleaned = append(cleaned, u)
		}
	}
	p.push(cleaned)
	return &Static{pager: p}
}

// DiscoverURLs implements harvest.Collector.
func (s *Static) DiscoverURLs(ctx context.Context, limit int) ([]string, bool, error) {
	return s.pager.discover(ctx, limit)
}
