package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// Sitemap discovers article URLs from sitemap.xml files, following nested
// sitemap indexes.
type Sitemap struct {
	fetcher harvest.Fetcher
	pattern *regexp.Regexp
	pager   *pager
}

// NewSitemap builds a sitemap collector rooted at the given sitemap URLs.
func NewSitemap(sitemaps []string, pattern *regexp.Regexp, fetcher harvest.Fetcher) (*Sitemap, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("sitemap collector requires a fetcher")
	}
	if len(sitemaps) == 0 {
		return nil, fmt.Errorf("sitemap collector requires at least one sitemap url")
	}
	for _, raw := range sitemaps {
		if u, err := url.Parse(raw); err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("invalid sitemap url %q", raw)
		}
	}
	s := &Sitemap{fetcher: fetcher, pattern: pattern}
	s.pager = newPager(sitemaps, s.load)
	return s, nil
}

// DiscoverURLs implements harvest.Collector.
func (s *Sitemap) DiscoverURLs(ctx context.Context, limit int) ([]string, bool, error) {
	return s.pager.discover(ctx, limit)
}

func (s *Sitemap) load(ctx context.Context, sitemapURL string) ([]string, []string, error) {
	page, err := s.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, nil, harvest.Permanent("parse sitemap", err)
	}

	var nested []string
	doc.Find("sitemap > loc").Each(func(_ int, sel *goquery.Selection) {
		if loc := strings.TrimSpace(sel.Text()); loc != "" {
			nested = append(nested, loc)
		}
	})
	var links []string
	doc.Find("url > loc").Each(func(_ int, sel *goquery.Selection) {
		loc := strings.TrimSpace(sel.Text())
		if loc == "" {
			return
		}
		if s.pattern != nil && !s.pattern.MatchString(loc) {
			return
		}
		links = append(links, loc)
	})
	return links, nested, nil
}
