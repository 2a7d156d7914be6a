package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

const defaultLinkSelector = "a[href]"

// ListingConfig describes which index pages to walk and which links count as
// articles.
type ListingConfig struct {
	ListingURLs  []string
	LinkSelector string
	LinkPattern  *regexp.Regexp
	// AllowOffsite keeps links whose host differs from the listing page.
	AllowOffsite bool
	PageParam    string
	MaxPages     int
}

// Listing discovers article URLs by scraping anchor tags from index pages.
type Listing struct {
	cfg     ListingConfig
	fetcher harvest.Fetcher
	pager   *pager
}

// NewListing builds a listing collector. Index pages are fetched through
// fetcher so they share the source's rate limiting.
func NewListing(cfg ListingConfig, fetcher harvest.Fetcher) (*Listing, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("listing collector requires a fetcher")
	}
	if len(cfg.ListingURLs) == 0 {
		return nil, fmt.Errorf("listing collector requires at least one listing url")
	}
	if cfg.LinkSelector == "" {
		cfg.LinkSelector = defaultLinkSelector
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 0")
	}
	pages, err := expandPages(cfg.ListingURLs, cfg.PageParam, cfg.MaxPages)
	if err != nil {
		return nil, err
	}
	l := &Listing{cfg: cfg, fetcher: fetcher}
	l.pager = newPager(pages, l.load)
	return l, nil
}

// DiscoverURLs implements harvest.Collector.
func (l *Listing) DiscoverURLs(ctx context.Context, limit int) ([]string, bool, error) {
	return l.pager.discover(ctx, limit)
}

func (l *Listing) load(ctx context.Context, pageURL string) ([]string, []string, error) {
	page, err := l.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, nil, err
	}
	base, err := url.Parse(page.URL)
	if err != nil || page.URL == "" {
		base, _ = url.Parse(pageURL)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, nil, harvest.Permanent("parse listing", err)
	}

	var links []string
	doc.Find(l.cfg.LinkSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if link, keep := l.accept(base, href); keep {
			links = append(links, link)
		}
	})
	return links, nil, nil
}

func (l *Listing) accept(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if !l.cfg.AllowOffsite && !strings.EqualFold(abs.Hostname(), base.Hostname()) {
		return "", false
	}
	abs.Fragment = ""
	link := abs.String()
	if l.cfg.LinkPattern != nil && !l.cfg.LinkPattern.MatchString(link) {
		return "", false
	}
	return link, true
}

func expandPages(listings []string, param string, maxPages int) ([]string, error) {
	pages := make([]string, 0, len(listings))
	for _, raw := range listings {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("invalid listing url %q", raw)
		}
		if param == "" || maxPages <= 1 {
			pages = append(pages, u.String())
			continue
		}
		for n := 1; n <= maxPages; n++ {
			next := *u
			q := next.Query()
			q.Set(param, strconv.Itoa(n))
			next.RawQuery = q.Encode()
			pages = append(pages, next.String())
		}
	}
	return pages, nil
}
