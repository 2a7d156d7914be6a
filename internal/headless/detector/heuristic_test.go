package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

func TestShouldPromote(t *testing.T) {
	t.Parallel()

	longArticle := "<html><body><article><p>" + strings.Repeat("Prices rose. ", 300) + "</p></article></body></html>"

	tests := []struct {
		name string
		page harvest.Page
		want bool
	}{
		{name: "empty body", page: harvest.Page{StatusCode: 200, Body: []byte("  \n")}, want: true},
		{name: "next.js shell", page: harvest.Page{StatusCode: 200, Body: []byte(`<div id="__next"></div>`)}, want: true},
		{name: "marker case insensitive", page: harvest.Page{StatusCode: 200, Body: []byte(`<DIV DATA-REACTROOT></DIV>` + longArticle)}, want: true},
		{name: "script heavy small page", page: harvest.Page{StatusCode: 200, Body: []byte(`<html><script>var a=1;</script><p>t</p></html>`)}, want: true},
		{name: "unterminated script", page: harvest.Page{StatusCode: 200, Body: []byte(`<p>x</p><script src="app.js">boot()`)}, want: true},
		{name: "plain article", page: harvest.Page{StatusCode: 200, ContentType: "text/html", Body: []byte(longArticle)}, want: false},
		{name: "not found", page: harvest.Page{StatusCode: 404, Body: []byte("not found")}, want: false},
		{name: "xml", page: harvest.Page{StatusCode: 200, ContentType: "application/xml", Body: nil}, want: false},
	}

	h := NewHeuristic(1000)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, h.ShouldPromote(tt.page))
		})
	}
}

func TestExtraMarkers(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><body><div class="Paywall-Loader"></div>` + strings.Repeat("text ", 1000) + `</body></html>`)
	require.False(t, NewHeuristic(0).ShouldPromote(harvest.Page{StatusCode: 200, Body: body}))
	require.True(t, NewHeuristic(0, "paywall-loader").ShouldPromote(harvest.Page{StatusCode: 200, Body: body}))
}

func TestScriptCoverage(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, scriptCoverage(nil))
	require.Equal(t, 0, scriptCoverage([]byte("<p>hello</p>")))
	require.Equal(t, 100, scriptCoverage([]byte("<script>x</script>")))
}
