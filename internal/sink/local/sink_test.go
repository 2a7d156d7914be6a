package local

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

func TestNewRequiresDirectory(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(Config{BaseDir: file})
	require.Error(t, err)

	nested := filepath.Join(t.TempDir(), "a", "b")
	_, err = New(Config{BaseDir: nested})
	require.NoError(t, err)
	info, err := os.Stat(nested)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestPersistWritesJSONAndDetectsDuplicates(t *testing.T) {
	t.Parallel()

	s, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	article := harvest.Article{URL: "https://Example.com/story#top", Source: "wire", Title: "Story", Body: "text"}

	status, err := s.Persist(context.Background(), article)
	require.NoError(t, err)
	require.Equal(t, harvest.PersistAck, status)

	path, err := s.pathFor(article)
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var stored harvest.Article
	require.NoError(t, json.Unmarshal(raw, &stored))
	require.Equal(t, "Story", stored.Title)

	status, err = s.Persist(context.Background(), harvest.Article{URL: "https://example.com/story", Source: "wire"})
	require.NoError(t, err)
	require.Equal(t, harvest.PersistDuplicate, status)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPersistConcurrentWritersSingleAck(t *testing.T) {
	t.Parallel()

	s, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	var (
		acks atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := s.Persist(context.Background(), harvest.Article{URL: "https://example.com/race", Source: "wire"})
			if err == nil && status == harvest.PersistAck {
				acks.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), acks.Load())
}

func TestPersistRejectsTraversal(t *testing.T) {
	t.Parallel()

	s, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	_, err = s.Persist(context.Background(), harvest.Article{URL: "https://example.com/x", Source: "../../escape"})
	require.ErrorIs(t, err, harvest.ErrPersist)

	_, err = s.Persist(context.Background(), harvest.Article{Source: "wire"})
	require.ErrorIs(t, err, harvest.ErrPersist)
}
