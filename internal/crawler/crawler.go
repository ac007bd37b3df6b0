// Package crawler fetches article pages and extracts the main body text,
// stripping navigation, ads and other boilerplate.
package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/econpulse/econpulse/internal/httpclient"
	"github.com/econpulse/econpulse/internal/models"
)

// maxBodyBytes caps how much of a page is read; article pages beyond this are
// almost certainly bloated with non-article content anyway.
const maxBodyBytes = 4 << 20

// Crawler fetches and extracts article bodies. A URL is fetched at most once
// per run; repeated refs hit the cache.
type Crawler struct {
	client   *httpclient.Client
	minChars int
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]models.ArticleContent
}

// New creates a crawler. minChars is the minimum viable extracted length in
// runes; shorter extractions are recorded as failed crawls.
func New(client *httpclient.Client, minChars int, logger *slog.Logger) *Crawler {
	return &Crawler{
		client:   client,
		minChars: minChars,
		logger:   logger,
		cache:    make(map[string]models.ArticleContent),
	}
}

// Fetch returns the article content for ref. A failed fetch or extraction
// does not return an error: the failure is recorded on the content itself so
// the batch continues and the ref stays eligible for retry in a later run.
func (c *Crawler) Fetch(ctx context.Context, ref models.ArticleRef) models.ArticleContent {
	c.mu.Lock()
	if cached, ok := c.cache[ref.SourceURL]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	content := c.fetch(ctx, ref)

	c.mu.Lock()
	c.cache[ref.SourceURL] = content
	c.mu.Unlock()

	return content
}

func (c *Crawler) fetch(ctx context.Context, ref models.ArticleRef) models.ArticleContent {
	content := models.ArticleContent{
		SourceURL: ref.SourceURL,
		Status:    models.CrawlStatusFailed,
		CrawledAt: time.Now(),
	}

	html, err := c.download(ctx, ref.SourceURL)
	if err != nil {
		c.logger.Warn("page fetch failed", "url", ref.SourceURL, "error", err)
		content.CrawlError = err.Error()
		return content
	}

	text := c.extract(html, ref.SourceURL)
	if utf8.RuneCountInString(text) < c.minChars {
		c.logger.Info("extracted body below minimum length",
			"url", ref.SourceURL,
			"chars", utf8.RuneCountInString(text),
			"min_chars", c.minChars,
		)
		content.CrawlError = fmt.Sprintf("extracted %d chars, minimum %d", utf8.RuneCountInString(text), c.minChars)
		return content
	}

	content.Status = models.CrawlStatusOK
	content.FullText = text
	content.CrawlError = ""
	return content
}

func (c *Crawler) download(ctx context.Context, pageURL string) (string, error) {
	resp, err := c.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}

	return string(body), nil
}

// extract runs readability over the page, falling back to a paragraph sweep
// when readability yields nothing usable.
func (c *Crawler) extract(html, pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err == nil {
		if text := normalizeText(article.TextContent); text != "" {
			return text
		}
	}

	return extractParagraphs(html)
}

// extractParagraphs harvests <p> and <article> text directly. Some Korean
// news layouts defeat readability's scoring but keep the body in plain
// paragraph tags.
func extractParagraphs(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, header, footer, aside, iframe").Remove()

	var parts []string
	doc.Find("article p, div.article_body p, div#newsct_article p, p").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			parts = append(parts, text)
		}
	})

	return normalizeText(strings.Join(parts, "\n"))
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}

	return strings.Join(kept, "\n")
}
