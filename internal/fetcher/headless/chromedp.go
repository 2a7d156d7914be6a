// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultWaitSelector      = "body"
	opFetch                  = "headless fetch"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent tabs. Zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay waits after WaitSelector is ready so late scripts can
	// fill in the article.
	SettleDelay  time.Duration
	WaitSelector string
	Headers      http.Header
	// MaxBodyBytes rejects rendered documents larger than this. Zero disables
	// the check.
	MaxBodyBytes int64
}

// Fetcher renders pages in headless Chrome for sources whose articles only
// appear after JavaScript runs.
type Fetcher struct {
	cfg   Config
	slots *semaphore.Weighted

	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser
// process starts with the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	cfg.SettleDelay = max(cfg.SettleDelay, 0)
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = defaultWaitSelector
	}

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	f.allocator, f.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close shuts down the browser.
func (f *Fetcher) Close() {
	if f.allocCancel != nil {
		f.allocCancel()
	}
}

// Fetch implements harvest.Fetcher by rendering url in a fresh tab and
// returning the serialized DOM.
func (f *Fetcher) Fetch(ctx context.Context, url string) (harvest.Page, error) {
	if f.slots != nil {
		if err := f.slots.Acquire(ctx, 1); err != nil {
			return harvest.Page{}, harvest.NewError(harvest.KindTimeout, opFetch, fmt.Errorf("wait for browser slot: %w", err))
		}
		defer f.slots.Release(1)
	}

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	// The tab outlives ctx otherwise, since it hangs off the allocator.
	defer context.AfterFunc(ctx, closeTab)()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.listen)

	start := time.Now()
	html, location, err := f.render(tabCtx, url)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return harvest.Page{}, harvest.NewError(harvest.KindTimeout, opFetch, err)
		}
		return harvest.Page{}, harvest.Transient(opFetch, err)
	}

	page := doc.page(url, location)
	if err := classifyStatus(page.StatusCode); err != nil {
		return harvest.Page{}, err
	}
	if f.cfg.MaxBodyBytes > 0 && int64(len(html)) > f.cfg.MaxBodyBytes {
		return harvest.Page{}, harvest.Permanent(opFetch, fmt.Errorf("rendered document is %d bytes, limit %d", len(html), f.cfg.MaxBodyBytes))
	}
	page.Body = []byte(html)
	page.Duration = time.Since(start)
	return page, nil
}

func (f *Fetcher) render(ctx context.Context, url string) (html, location string, err error) {
	tasks := chromedp.Tasks{
		chromedp.ActionFunc(f.prepareTab),
		chromedp.Navigate(url),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
	}
	if f.cfg.SettleDelay > 0 {
		tasks = append(tasks, chromedp.Sleep(f.cfg.SettleDelay))
	}
	tasks = append(tasks,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", "", fmt.Errorf("render %s: %w", url, err)
	}
	return html, location, nil
}

// prepareTab enables network events and applies per-tab overrides before
// navigation.
func (f *Fetcher) prepareTab(ctx context.Context) error {
	if err := network.Enable().Do(ctx); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	if f.cfg.UserAgent != "" {
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("override user agent: %w", err)
		}
	}
	if len(f.cfg.Headers) > 0 {
		if err := network.SetExtraHTTPHeaders(networkHeaders(f.cfg.Headers)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return harvest.Transient(opFetch, fmt.Errorf("status %d", status))
	case status >= 400:
		return harvest.Permanent(opFetch, fmt.Errorf("status %d", status))
	default:
		return nil
	}
}

// documentResponse remembers the main document's response. Frames and
// subresources that arrive later are ignored.
type documentResponse struct {
	mu       sync.Mutex
	seen     bool
	status   int
	url      string
	mimeType string
	header   http.Header
}

func (d *documentResponse) listen(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	header := make(http.Header, len(resp.Response.Headers))
	for key, raw := range resp.Response.Headers {
		for _, v := range headerValues(raw) {
			header.Add(key, v)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.mimeType = resp.Response.MimeType
	d.header = header
}

// page builds page metadata without a body. Missing values fall back to the
// browser location, then the requested URL, and to 200 when no document
// response was observed.
func (d *documentResponse) page(requested, location string) harvest.Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := harvest.Page{URL: d.url, StatusCode: d.status}
	if p.URL == "" {
		p.URL = location
	}
	if p.URL == "" {
		p.URL = requested
	}
	if p.StatusCode == 0 {
		p.StatusCode = http.StatusOK
	}
	if d.header != nil {
		p.ContentType = d.header.Get("Content-Type")
	}
	if p.ContentType == "" {
		p.ContentType = d.mimeType
	}
	return p
}

func headerValues(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			out = append(out, fmt.Sprint(entry))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

func networkHeaders(h http.Header) network.Headers {
	out := make(network.Headers, len(h))
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
