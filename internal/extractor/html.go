// Package extractor turns raw article HTML into harvest.Article values.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

var (
	// Content containers tried in order when no body selector is configured.
	mainSelectors = []string{"main", "article", "[role=main]", "body"}
	noise         = "script, style, noscript, iframe, nav, header, footer, aside, form, .advertisement, .share, .related"

	excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

	dateLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		time.RFC1123Z,
		time.RFC1123,
		"January 2, 2006",
		"Jan 2, 2006",
	}
)

// Config selects the parts of a page that make up an article. Empty fields
// fall back to common metadata conventions.
type Config struct {
	TitleSelector  string
	BodySelector   string
	AuthorSelector string
	DateSelector   string
	DateLayout     string
	// MinBodyChars rejects pages whose extracted text is shorter.
	MinBodyChars int
}

// HTML extracts articles with goquery and renders the body as Markdown.
type HTML struct {
	cfg       Config
	converter *md.Converter
}

// NewSelector returns an extractor bound to site-specific selectors.
func NewSelector(cfg Config) (*HTML, error) {
	if strings.TrimSpace(cfg.BodySelector) == "" {
		return nil, fmt.Errorf("selector extractor requires body_selector")
	}
	return newHTML(cfg), nil
}

// NewGeneric returns an extractor that guesses the main content container.
func NewGeneric(cfg Config) *HTML {
	cfg.BodySelector = ""
	return newHTML(cfg)
}

func newHTML(cfg Config) *HTML {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &HTML{cfg: cfg, converter: converter}
}

// Extract implements harvest.Extractor. Failures are permanent: the same
// bytes will never parse differently on retry.
func (h *HTML) Extract(url string, raw []byte) (harvest.Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return harvest.Article{}, harvest.Permanent("extract", fmt.Errorf("parse html: %w", err))
	}

	article := harvest.Article{
		URL:    url,
		Title:  h.title(doc),
		Author: h.author(doc),
	}
	if published, ok := h.published(doc); ok {
		article.PublishedAt = published
	}

	body := h.body(doc)
	if body == nil || body.Length() == 0 {
		return harvest.Article{}, harvest.Permanent("extract", errors.New("no content container found"))
	}
	body.Find(noise).Remove()

	article.Body = collapseSpace(body.Text())
	if article.Body == "" || len(article.Body) < h.cfg.MinBodyChars {
		return harvest.Article{}, harvest.Permanent("extract", errors.New("empty article body"))
	}

	fragment, err := goquery.OuterHtml(body.First())
	if err != nil {
		return harvest.Article{}, harvest.Permanent("extract", fmt.Errorf("render body: %w", err))
	}
	markdown, err := h.converter.ConvertString(fragment)
	if err != nil {
		return harvest.Article{}, harvest.Permanent("extract", fmt.Errorf("convert markdown: %w", err))
	}
	article.Markdown = strings.TrimSpace(excessiveLinesRe.ReplaceAllString(markdown, "\n\n"))
	return article, nil
}

func (h *HTML) body(doc *goquery.Document) *goquery.Selection {
	if h.cfg.BodySelector != "" {
		return doc.Find(h.cfg.BodySelector).First()
	}
	for _, selector := range mainSelectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}

func (h *HTML) title(doc *goquery.Document) string {
	if h.cfg.TitleSelector != "" {
		if title := collapseSpace(doc.Find(h.cfg.TitleSelector).First().Text()); title != "" {
			return title
		}
	}
	if title := metaContent(doc, `meta[property="og:title"]`); title != "" {
		return title
	}
	if title := collapseSpace(doc.Find("h1").First().Text()); title != "" {
		return title
	}
	return collapseSpace(doc.Find("title").First().Text())
}

func (h *HTML) author(doc *goquery.Document) string {
	if h.cfg.AuthorSelector != "" {
		sel := doc.Find(h.cfg.AuthorSelector).First()
		if content, ok := sel.Attr("content"); ok {
			return strings.TrimSpace(content)
		}
		if author := collapseSpace(sel.Text()); author != "" {
			return author
		}
	}
	if author := metaContent(doc, `meta[name="author"]`); author != "" {
		return author
	}
	return metaContent(doc, `meta[property="article:author"]`)
}

func (h *HTML) published(doc *goquery.Document) (time.Time, bool) {
	var candidates []string
	if h.cfg.DateSelector != "" {
		sel := doc.Find(h.cfg.DateSelector).First()
		for _, attr := range []string{"datetime", "content"} {
			if v, ok := sel.Attr(attr); ok {
				candidates = append(candidates, v)
			}
		}
		candidates = append(candidates, sel.Text())
	}
	candidates = append(candidates,
		metaContent(doc, `meta[property="article:published_time"]`),
		metaContent(doc, `meta[name="date"]`),
	)
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		candidates = append(candidates, v)
	}
	for _, candidate := range candidates {
		if ts, ok := h.parseDate(candidate); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

func (h *HTML) parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	layouts := dateLayouts
	if h.cfg.DateLayout != "" {
		layouts = append([]string{h.cfg.DateLayout}, dateLayouts...)
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
