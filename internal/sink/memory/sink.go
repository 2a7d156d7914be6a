// Package memory provides an in-process Sink for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// Sink keeps articles in a map keyed by URL. It outlives individual runs, so
// a second run over the same URLs reports duplicates.
type Sink struct {
	mu       sync.RWMutex
	articles map[string]harvest.Article
	order    []string
	calls    int
	failWith error
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{articles: make(map[string]harvest.Article)}
}

// FailWith makes every later Persist call return err. Passing nil restores
// normal behavior.
func (s *Sink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Persist implements harvest.Sink.
func (s *Sink) Persist(ctx context.Context, article harvest.Article) (harvest.PersistStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", harvest.NewError(harvest.KindPersist, "memory persist", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failWith != nil {
		return "", harvest.NewError(harvest.KindPersist, "memory persist", s.failWith)
	}
	if _, ok := s.articles[article.URL]; ok {
		return harvest.PersistDuplicate, nil
	}
	s.articles[article.URL] = article
	s.order = append(s.order, article.URL)
	return harvest.PersistAck, nil
}

// Articles returns stored articles in insertion order.
func (s *Sink) Articles() []harvest.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]harvest.Article, 0, len(s.order))
	for _, url := range s.order {
		out = append(out, s.articles[url])
	}
	return out
}

// Calls reports how many Persist calls were made.
func (s *Sink) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}
