package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2, SettleDelay: -time.Second})
	require.NoError(t, err)
	defer fetcher.Close()
	require.NotNil(t, fetcher.slots)
	require.Equal(t, defaultWaitSelector, fetcher.cfg.WaitSelector)
	require.Equal(t, defaultNavigationTimeout, fetcher.cfg.NavigationTimeout)
	require.Zero(t, fetcher.cfg.SettleDelay)

	unlimited, err := NewChromedp(Config{})
	require.NoError(t, err)
	defer unlimited.Close()
	require.Nil(t, unlimited.slots)
}

func TestFetchTimesOutWaitingForSlot(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer fetcher.Close()
	require.True(t, fetcher.slots.TryAcquire(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = fetcher.Fetch(ctx, "https://example.com/story")
	require.Equal(t, harvest.KindTimeout, harvest.KindOf(err))
}

func TestNetworkHeaders(t *testing.T) {
	t.Parallel()

	out := networkHeaders(http.Header{"X-Test": {"a", "b"}, "X-One": {"1"}, "X-None": {}})
	require.Equal(t, []string{"a", "b"}, out["X-Test"])
	require.Equal(t, "1", out["X-One"])
	_, ok := out["X-None"]
	require.False(t, ok)
}

func TestDocumentResponseKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://cdn.example.com/logo.png"},
	})
	doc.listen(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:   203,
			URL:      "https://example.com/rendered",
			MimeType: "text/html",
			Headers:  network.Headers{"X-Request-ID": "abc", "Set-Cookie": []any{"a=1", "b=2"}},
		},
	})
	doc.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 500, URL: "https://ads.example.com/frame"},
	})

	page := doc.page("https://example.com/req", "")
	require.Equal(t, 203, page.StatusCode)
	require.Equal(t, "https://example.com/rendered", page.URL)
	require.Equal(t, "text/html", page.ContentType)
	require.Equal(t, []string{"a=1", "b=2"}, doc.header.Values("Set-Cookie"))
}

func TestDocumentResponseFallbacks(t *testing.T) {
	t.Parallel()

	page := (&documentResponse{}).page("https://example.com/req", "https://example.com/final")
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "https://example.com/final", page.URL)

	page = (&documentResponse{}).page("https://example.com/req", "")
	require.Equal(t, "https://example.com/req", page.URL)
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.NoError(t, classifyStatus(http.StatusOK))
	require.Equal(t, harvest.KindTransient, harvest.KindOf(classifyStatus(http.StatusBadGateway)))
	require.Equal(t, harvest.KindTransient, harvest.KindOf(classifyStatus(http.StatusTooManyRequests)))
	require.Equal(t, harvest.KindPermanent, harvest.KindOf(classifyStatus(http.StatusNotFound)))
}
