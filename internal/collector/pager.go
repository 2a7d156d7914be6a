// Package collector provides the built-in URL discovery strategies.
package collector

import (
	"context"
	"sync"
)

// loadFunc returns the article links found on one index page plus any
// further index pages it references.
type loadFunc func(ctx context.Context, page string) (links []string, more []string, err error)

// pager walks a queue of index pages and hands out discovered links in
// batches. A failed page is not consumed, so the next call retries it.
type pager struct {
	mu     sync.Mutex
	pages  []string
	next   int
	buffer []string
	seen   map[string]struct{}
	load   loadFunc
}

func newPager(pages []string, load loadFunc) *pager {
	return &pager{
		pages: append([]string(nil), pages...),
		seen:  make(map[string]struct{}),
		load:  load,
	}
}

func (p *pager) push(links []string) {
	for _, link := range links {
		if _, ok := p.seen[link]; ok {
			continue
		}
		p.seen[link] = struct{}{}
		p.buffer = append(p.buffer, link)
	}
}

func (p *pager) discover(ctx context.Context, limit int) ([]string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.buffer) < limit && p.next < len(p.pages) {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		links, more, err := p.load(ctx, p.pages[p.next])
		if err != nil {
			return nil, false, err
		}
		p.next++
		p.pages = append(p.pages, more...)
		p.push(links)
	}

	n := min(limit, len(p.buffer))
	if n < 0 {
		n = 0
	}
	out := append([]string(nil), p.buffer[:n]...)
	p.buffer = p.buffer[n:]
	exhausted := p.next >= len(p.pages) && len(p.buffer) == 0
	return out, exhausted, nil
}
