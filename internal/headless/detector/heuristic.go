// Package detector decides when a statically fetched page needs a headless
// browser to expose its article.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

const (
	defaultMinBodyBytes  = 2048
	scriptCoverageCutoff = 25
)

// Heuristic flags pages that look like client-rendered shells.
type Heuristic struct {
	// MinBodyBytes is the size under which a script-heavy page is promoted.
	MinBodyBytes int
	markers      [][]byte
}

var defaultMarkers = []string{
	`id="__next"`,
	`id="root"`,
	`id="app"`,
	`data-reactroot`,
	`ng-version=`,
	`<noscript>you need to enable javascript`,
}

// NewHeuristic creates a detector. Zero minBodyBytes selects 2 KiB. Extra
// markers are matched case-insensitively alongside the built-in ones.
func NewHeuristic(minBodyBytes int, extraMarkers ...string) *Heuristic {
	if minBodyBytes <= 0 {
		minBodyBytes = defaultMinBodyBytes
	}
	h := &Heuristic{MinBodyBytes: minBodyBytes}
	for _, m := range append(append([]string(nil), defaultMarkers...), extraMarkers...) {
		if m = strings.TrimSpace(m); m != "" {
			h.markers = append(h.markers, []byte(strings.ToLower(m)))
		}
	}
	return h
}

// ShouldPromote reports whether page should be fetched again with a browser.
// Only successful HTML responses are considered.
func (h *Heuristic) ShouldPromote(page harvest.Page) bool {
	if page.StatusCode != 0 && page.StatusCode != 200 {
		return false
	}
	if ct := strings.ToLower(page.ContentType); ct != "" && !strings.Contains(ct, "html") {
		return false
	}
	if len(bytes.TrimSpace(page.Body)) == 0 {
		return true
	}
	lower := bytes.ToLower(page.Body)
	if len(lower) < h.MinBodyBytes && scriptCoverage(lower) >= scriptCoverageCutoff {
		return true
	}
	for _, marker := range h.markers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// scriptCoverage returns the percentage of body bytes inside <script>
// elements. body must already be lower case. Unterminated tags run to the
// end of the document.
func scriptCoverage(body []byte) int {
	if len(body) == 0 {
		return 0
	}
	openTag, closeTag := []byte("<script"), []byte("</script>")
	covered, pos := 0, 0
	for pos < len(body) {
		rel := bytes.Index(body[pos:], openTag)
		if rel < 0 {
			break
		}
		start := pos + rel
		end := len(body)
		if gt := bytes.IndexByte(body[start:], '>'); gt >= 0 {
			if closeRel := bytes.Index(body[start+gt+1:], closeTag); closeRel >= 0 {
				end = start + gt + 1 + closeRel + len(closeTag)
			}
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / len(body)
}
