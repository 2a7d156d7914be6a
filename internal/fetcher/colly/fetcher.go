// Package collyfetcher implements harvest.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

const defaultTimeout = 15 * time.Second

// Waiter blocks until a request to url may proceed.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
	Headers       http.Header
	Limiter       Waiter
}

// Fetcher implements harvest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	robots        *robotsFallback
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	// Retries revisit the same URL; the visited store is shared across clones.
	c.AllowURLRevisit = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}

	robots := &robotsFallback{}
	transport := &robotsAwareTransport{base: newHTTPTransport(), fallback: robots}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		robots:        robots,
		baseCollector: c,
	}
}

// RobotsFallbacks reports how many robots.txt probes degraded to allow-all.
func (f *Fetcher) RobotsFallbacks() int64 {
	return f.robots.count.Load()
}

// Fetch executes a single HTTP GET using Colly. Errors are classified: 5xx,
// 408 and 429 responses are transient, other 4xx responses and robots
// denials are permanent.
func (f *Fetcher) Fetch(ctx context.Context, url string) (harvest.Page, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, url); err != nil {
			return harvest.Page{}, harvest.Transient("fetch", err)
		}
	}
	var (
		page     harvest.Page
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(start, &page, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return harvest.Page{}, err
	}
	return page, nil
}

func (f *Fetcher) buildCollector(start time.Time, page *harvest.Page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	f.configureCollectorHooks(collector, start, page, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	page *harvest.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*page = harvest.Page{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		*fetchErr = classify(status, err)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return harvest.NewError(harvest.KindTimeout, "fetch", fmt.Errorf("colly fetch canceled: %w", ctx.Err()))
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return classify(0, fmt.Errorf("colly visit failed: %w", err))
		}
		return nil
	}
}

func classify(status int, err error) error {
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked),
		errors.Is(err, colly.ErrForbiddenDomain),
		errors.Is(err, colly.ErrMissingURL):
		return harvest.Permanent("fetch", err)
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return harvest.Transient("fetch", fmt.Errorf("status %d: %w", status, err))
	case status >= 400:
		return harvest.Permanent("fetch", fmt.Errorf("status %d: %w", status, err))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return harvest.NewError(harvest.KindTimeout, "fetch", err)
	}
	return harvest.Transient("fetch", err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
