// Package dedup provides the run-scoped "seen URL" set that guarantees at most
// one extraction per URL reaches the sink.
package dedup

import (
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// Set is safe for concurrent use. Keys are normalized URLs.
type Set struct {
	seen  sync.Map
	count atomic.Int64
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// Claim atomically marks url as seen. It returns true only for the first
// caller; every later caller, including concurrent ones, gets false.
func (s *Set) Claim(url string) bool {
	_, loaded := s.seen.LoadOrStore(key(url), struct{}{})
	if !loaded {
		s.count.Add(1)
	}
	return !loaded
}

// Len returns the number of claimed URLs.
func (s *Set) Len() int {
	return int(s.count.Load())
}

func key(url string) string {
	if normalized, err := harvest.NormalizeURL(url); err == nil {
		return normalized
	}
	return url
}
