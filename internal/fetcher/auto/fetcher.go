// Package auto provides a fetcher that starts with plain HTTP and promotes
// client-rendered pages to a headless browser.
package auto

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// Detector decides whether a statically fetched page needs rendering.
type Detector interface {
	ShouldPromote(page harvest.Page) bool
}

// Fetcher tries Static first and falls back to Headless when the detector
// flags the result.
type Fetcher struct {
	static   harvest.Fetcher
	headless harvest.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New wires the two fetchers. All three collaborators are required.
func New(static, headless harvest.Fetcher, detector Detector, logger *zap.Logger) (*Fetcher, error) {
	if static == nil || headless == nil || detector == nil {
		return nil, errors.New("auto fetcher requires static and headless fetchers and a detector")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{static: static, headless: headless, detector: detector, logger: logger}, nil
}

// Fetch implements harvest.Fetcher. A failed static fetch is returned as is;
// a promoted fetch reports the combined duration.
func (f *Fetcher) Fetch(ctx context.Context, url string) (harvest.Page, error) {
	page, err := f.static.Fetch(ctx, url)
	if err != nil {
		return page, err
	}
	if !f.detector.ShouldPromote(page) {
		return page, nil
	}
	f.logger.Debug("promoting to headless fetch", zap.String("url", url), zap.Int("bytes", len(page.Body)))
	rendered, err := f.headless.Fetch(ctx, url)
	if err != nil {
		return harvest.Page{}, err
	}
	rendered.Duration += page.Duration
	return rendered, nil
}
