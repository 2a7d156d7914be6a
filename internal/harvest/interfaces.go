package harvest

import (
	"context"
	"time"
)

// Collector lists candidate article URLs for one source. exhausted reports
// that no further URLs will be produced during this run.
type Collector interface {
	DiscoverURLs(ctx context.Context, limit int) (urls []string, exhausted bool, err error)
}

// Extractor converts raw fetched content into structured article data.
type Extractor interface {
	Extract(url string, raw []byte) (Article, error)
}

// Fetcher retrieves the raw content behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Sink is the persistence boundary. Implementations must be safe for
// concurrent use and must report PersistDuplicate rather than overwrite.
type Sink interface {
	Persist(ctx context.Context, article Article) (PersistStatus, error)
}

// Publisher pushes notifications about persisted articles downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
