package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/sink/memory"
)

type published struct {
	topic   string
	payload any
}

// recordingPublisher keeps every publish for inspection.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, payload: payload})
	return fmt.Sprintf("msg-%d", len(p.msgs)), nil
}

func (p *recordingPublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func TestPublishingAnnouncesOnlyAcks(t *testing.T) {
	t.Parallel()

	store := memory.New()
	pub := &recordingPublisher{}
	s, err := NewPublishing(store, pub, "articles", zap.NewNop())
	require.NoError(t, err)

	article := harvest.Article{
		URL:         "https://example.com/a",
		Source:      "wire",
		Title:       "A",
		ContentHash: "h",
		RunID:       "run-1",
		FetchedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	status, err := s.Persist(context.Background(), article)
	require.NoError(t, err)
	require.Equal(t, harvest.PersistAck, status)

	status, err = s.Persist(context.Background(), article)
	require.NoError(t, err)
	require.Equal(t, harvest.PersistDuplicate, status)

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "articles", msgs[0].topic)
	event, ok := msgs[0].payload.(ArticleEvent)
	require.True(t, ok)
	require.Equal(t, "run-1", event.RunID)
	require.Equal(t, "2024-01-02T03:04:05.000Z", event.FetchedAt)
}

func TestPublishingSurvivesPublishFailure(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{err: errors.New("unavailable")}
	s, err := NewPublishing(memory.New(), pub, "articles", nil)
	require.NoError(t, err)

	status, err := s.Persist(context.Background(), harvest.Article{URL: "https://example.com/a"})
	require.NoError(t, err)
	require.Equal(t, harvest.PersistAck, status)
}

func TestPublishingPassesThroughErrors(t *testing.T) {
	t.Parallel()

	store := memory.New()
	store.FailWith(errors.New("down"))
	pub := &recordingPublisher{}
	s, err := NewPublishing(store, pub, "articles", nil)
	require.NoError(t, err)

	_, err = s.Persist(context.Background(), harvest.Article{URL: "https://example.com/a"})
	require.ErrorIs(t, err, harvest.ErrPersist)
	require.Empty(t, pub.messages())
	require.NoError(t, s.Close())
}

func TestNewPublishingValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPublishing(nil, &recordingPublisher{}, "t", nil)
	require.Error(t, err)
	_, err = NewPublishing(memory.New(), nil, "t", nil)
	require.Error(t, err)
}
