package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

const articlePage = `<!doctype html>
<html><head>
<title>Site | Rates hold steady</title>
<meta name="author" content="Dana Reyes">
<meta property="article:published_time" content="2024-03-05T14:30:00Z">
</head><body>
<nav><a href="/">Home</a></nav>
<article class="story">
  <h1>Rates hold steady</h1>
  <p>The central bank kept rates <strong>unchanged</strong> on Tuesday.</p>
  <script>track()</script>
  <aside>Related coverage</aside>
  <p>Markets were calm.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestGenericExtractsMetadataAndBody(t *testing.T) {
	t.Parallel()

	article, err := NewGeneric(Config{}).Extract("https://example.com/rates", []byte(articlePage))
	require.NoError(t, err)
	require.Equal(t, "https://example.com/rates", article.URL)
	require.Equal(t, "Rates hold steady", article.Title)
	require.Equal(t, "Dana Reyes", article.Author)
	require.Equal(t, time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), article.PublishedAt)
	require.Contains(t, article.Body, "kept rates unchanged on Tuesday.")
	require.Contains(t, article.Body, "Markets were calm.")
	require.NotContains(t, article.Body, "track()")
	require.NotContains(t, article.Body, "Related coverage")
	require.NotContains(t, article.Body, "Copyright")
	require.Contains(t, article.Markdown, "**unchanged**")
	require.Contains(t, article.Markdown, "# Rates hold steady")
}

func TestSelectorUsesConfiguredSelectors(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<div class="headline">Custom headline</div>
<span class="byline">By Lee</span>
<span class="when">05/03/2024</span>
<div class="content"><p>Body text here.</p></div>
<article><p>Not this one.</p></article>
</body></html>`
	ext, err := NewSelector(Config{
		TitleSelector:  ".headline",
		BodySelector:   ".content",
		AuthorSelector: ".byline",
		DateSelector:   ".when",
		DateLayout:     "02/01/2006",
	})
	require.NoError(t, err)

	article, err := ext.Extract("https://example.com/x", []byte(page))
	require.NoError(t, err)
	require.Equal(t, "Custom headline", article.Title)
	require.Equal(t, "By Lee", article.Author)
	require.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), article.PublishedAt)
	require.Equal(t, "Body text here.", article.Body)
}

func TestNewSelectorRequiresBody(t *testing.T) {
	t.Parallel()

	_, err := NewSelector(Config{TitleSelector: "h1"})
	require.Error(t, err)
}

func TestExtractEmptyBodyIsPermanent(t *testing.T) {
	t.Parallel()

	ext, err := NewSelector(Config{BodySelector: ".missing"})
	require.NoError(t, err)
	_, err = ext.Extract("https://example.com/x", []byte(`<html><body><p>hi</p></body></html>`))
	require.Error(t, err)
	require.Equal(t, harvest.KindPermanent, harvest.KindOf(err))

	_, err = NewGeneric(Config{}).Extract("https://example.com/y", []byte(`<html><body><script>x()</script></body></html>`))
	require.Equal(t, harvest.KindPermanent, harvest.KindOf(err))
}

func TestExtractMinBodyChars(t *testing.T) {
	t.Parallel()

	_, err := NewGeneric(Config{MinBodyChars: 50}).Extract("https://example.com/z", []byte(`<main><p>short</p></main>`))
	require.Equal(t, harvest.KindPermanent, harvest.KindOf(err))
}

func TestTitleFallsBackToDocumentTitle(t *testing.T) {
	t.Parallel()

	article, err := NewGeneric(Config{}).Extract("https://example.com/t", []byte(`<html><head><title> Plain </title></head><body><main>words</main></body></html>`))
	require.NoError(t, err)
	require.Equal(t, "Plain", article.Title)
	require.True(t, article.PublishedAt.IsZero())
}
