// Package sink holds Sink decorators; concrete stores live in subpackages.
package sink

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// ArticleEvent is the message published for every newly stored article.
type ArticleEvent struct {
	RunID       string `json:"run_id"`
	Source      string `json:"source"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	ContentHash string `json:"content_hash"`
	FetchedAt   string `json:"fetched_at"`
}

// Publishing announces acknowledged writes on a topic. Duplicates are not
// announced, and a failed publish never turns a stored article into a
// persist failure.
type Publishing struct {
	next      harvest.Sink
	publisher harvest.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishing wraps next.
func NewPublishing(next harvest.Sink, publisher harvest.Publisher, topic string, logger *zap.Logger) (*Publishing, error) {
	if next == nil {
		return nil, fmt.Errorf("wrapped sink is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publishing{next: next, publisher: publisher, topic: topic, logger: logger}, nil
}

// Persist implements harvest.Sink.
func (p *Publishing) Persist(ctx context.Context, article harvest.Article) (harvest.PersistStatus, error) {
	status, err := p.next.Persist(ctx, article)
	if err != nil || status != harvest.PersistAck {
		return status, err
	}
	event := ArticleEvent{
		RunID:       article.RunID,
		Source:      article.Source,
		URL:         article.URL,
		Title:       article.Title,
		ContentHash: article.ContentHash,
		FetchedAt:   article.FetchedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	id, pubErr := p.publisher.Publish(ctx, p.topic, event)
	if pubErr != nil {
		p.logger.Warn("publish article event failed",
			zap.String("url", article.URL),
			zap.String("topic", p.topic),
			zap.Error(pubErr),
		)
		return status, nil
	}
	p.logger.Debug("article event published", zap.String("url", article.URL), zap.String("message_id", id))
	return status, nil
}

// Close closes the wrapped sink when it supports closing.
func (p *Publishing) Close() error {
	if c, ok := p.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
