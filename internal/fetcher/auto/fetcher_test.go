package auto

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/headless/detector"
)

type stubFetcher struct {
	page  harvest.Page
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (harvest.Page, error) {
	s.calls++
	page := s.page
	page.URL = url
	return page, s.err
}

func TestFetchKeepsStaticPage(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{page: harvest.Page{StatusCode: 200, ContentType: "application/json", Body: []byte(`{}`)}}
	headless := &stubFetcher{}
	f, err := New(static, headless, detector.NewHeuristic(0), nil)
	require.NoError(t, err)

	page, err := f.Fetch(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, `{}`, string(page.Body))
	require.Equal(t, 0, headless.calls)
}

func TestFetchPromotesShellPages(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{page: harvest.Page{StatusCode: 200, Body: []byte(`<div id="root"></div>`), Duration: 10 * time.Millisecond}}
	headless := &stubFetcher{page: harvest.Page{StatusCode: 200, Body: []byte(`<article>rendered</article>`), Duration: 90 * time.Millisecond}}
	f, err := New(static, headless, detector.NewHeuristic(0), nil)
	require.NoError(t, err)

	page, err := f.Fetch(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, "<article>rendered</article>", string(page.Body))
	require.Equal(t, 100*time.Millisecond, page.Duration)
	require.Equal(t, 1, headless.calls)
}

func TestFetchReturnsErrors(t *testing.T) {
	t.Parallel()

	staticErr := harvest.Transient("fetch", errors.New("reset"))
	f, err := New(&stubFetcher{err: staticErr}, &stubFetcher{}, detector.NewHeuristic(0), nil)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "https://example.com/a")
	require.ErrorIs(t, err, staticErr)

	renderErr := harvest.Permanent("render", errors.New("crashed"))
	f, err = New(&stubFetcher{page: harvest.Page{StatusCode: 200}}, &stubFetcher{err: renderErr}, detector.NewHeuristic(0), nil)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "https://example.com/a")
	require.Equal(t, harvest.KindPermanent, harvest.KindOf(err))
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, &stubFetcher{}, detector.NewHeuristic(0), nil)
	require.Error(t, err)
}
