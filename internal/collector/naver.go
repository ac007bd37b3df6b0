// Package collector queries the Naver news search API per keyword and yields
// deduplicated article references for the crawl stage.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/econpulse/econpulse/internal/httpclient"
	"github.com/econpulse/econpulse/internal/models"
)

const (
	defaultEndpoint = "https://openapi.naver.com/v1/search/news.json"

	// Naver caps display at 100 items per page and start at 1000.
	pageSize = 100
	maxStart = 1000
)

// Window bounds the publication time range of collected articles.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Collector fetches article metadata from the Naver news search API.
type Collector struct {
	client       *httpclient.Client
	endpoint     string
	clientID     string
	clientSecret string
	logger       *slog.Logger
}

// New creates a news collector. All HTTP traffic goes through the provided
// rate-limited client.
func New(client *httpclient.Client, clientID, clientSecret string, logger *slog.Logger) *Collector {
	return &Collector{
		client:       client,
		endpoint:     defaultEndpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
	}
}

// NewWithEndpoint creates a collector against a non-default endpoint.
func NewWithEndpoint(client *httpclient.Client, endpoint, clientID, clientSecret string, logger *slog.Logger) *Collector {
	c := New(client, clientID, clientSecret, logger)
	c.endpoint = endpoint
	return c
}

// Stream is a lazy sequence of article refs. Consumers range over Refs and
// may abort early by cancelling the collection context; unfetched pages are
// never requested. Err reports per-keyword failures once Refs is closed.
type Stream struct {
	refs chan models.ArticleRef

	mu   sync.Mutex
	errs []error
}

// NewStaticStream returns a closed stream pre-populated with the given refs.
// It serves fixture inputs where no live source is available.
func NewStaticStream(refs []models.ArticleRef, errs ...error) *Stream {
	s := &Stream{refs: make(chan models.ArticleRef, len(refs)), errs: errs}
	for _, ref := range refs {
		s.refs <- ref
	}
	close(s.refs)
	return s
}

// Refs returns the channel of collected article references.
func (s *Stream) Refs() <-chan models.ArticleRef {
	return s.refs
}

// Err returns the aggregated keyword failures, nil when all keywords
// completed. Valid only after Refs is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.errs...)
}

func (s *Stream) recordErr(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

// naverResponse is the search API envelope. Payloads are validated here at
// the boundary and converted immediately into ArticleRef.
type naverResponse struct {
	Total   int         `json:"total"`
	Start   int         `json:"start"`
	Display int         `json:"display"`
	Items   []naverItem `json:"items"`
}

type naverItem struct {
	Title        string `json:"title"`
	OriginalLink string `json:"originallink"`
	Link         string `json:"link"`
	Description  string `json:"description"`
	PubDate      string `json:"pubDate"`
}

// Collect starts concurrent per-keyword pagination and returns the stream.
// One keyword's failure never blocks the others; failures are aggregated on
// the stream rather than aborting the collection.
func (c *Collector) Collect(ctx context.Context, keywords []string, window Window) *Stream {
	stream := &Stream{refs: make(chan models.ArticleRef)}

	var seen sync.Map // source URL -> struct{}, dedup across keywords

	var wg sync.WaitGroup
	for _, keyword := range keywords {
		wg.Add(1)
		go func(kw string) {
			defer wg.Done()
			if err := c.collectKeyword(ctx, kw, window, &seen, stream); err != nil {
				c.logger.Error("keyword collection failed", "keyword", kw, "error", err)
				stream.recordErr(fmt.Errorf("keyword %q: %w", kw, err))
			}
		}(keyword)
	}

	go func() {
		wg.Wait()
		close(stream.refs)
	}()

	return stream
}

// collectKeyword pages through one keyword's results until the window is
// exhausted or the source signals end-of-results.
func (c *Collector) collectKeyword(ctx context.Context, keyword string, window Window, seen *sync.Map, stream *Stream) error {
	for start := 1; start <= maxStart; start += pageSize {
		page, err := c.fetchPage(ctx, keyword, start)
		if err != nil {
			return err
		}

		if len(page.Items) == 0 {
			return nil
		}

		for _, item := range page.Items {
			ref, ok := c.toRef(item, keyword)
			if !ok {
				continue
			}

			// Results arrive newest-first; once a page crosses the window's
			// lower bound the remaining pages are all older.
			if ref.PublishedAt.Before(window.From) {
				return nil
			}
			if !window.Contains(ref.PublishedAt) {
				continue
			}

			if _, dup := seen.LoadOrStore(ref.SourceURL, struct{}{}); dup {
				continue
			}

			select {
			case stream.refs <- ref:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if start+page.Display > page.Total {
			return nil
		}
	}

	return nil
}

func (c *Collector) fetchPage(ctx context.Context, keyword string, start int) (*naverResponse, error) {
	params := url.Values{}
	params.Set("query", keyword)
	params.Set("display", fmt.Sprintf("%d", pageSize))
	params.Set("start", fmt.Sprintf("%d", start))
	params.Set("sort", "date")

	header := http.Header{}
	header.Set("X-Naver-Client-Id", c.clientID)
	header.Set("X-Naver-Client-Secret", c.clientSecret)

	var page naverResponse
	if err := c.client.GetJSON(ctx, c.endpoint+"?"+params.Encode(), header, &page); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched search page",
		"keyword", keyword,
		"start", start,
		"items", len(page.Items),
		"total", page.Total,
	)

	return &page, nil
}

// toRef validates one search item and converts it into an ArticleRef.
// Items without a usable URL or publication date are skipped with a warning;
// a single bad item never fails the page.
func (c *Collector) toRef(item naverItem, keyword string) (models.ArticleRef, bool) {
	link := strings.TrimSpace(item.OriginalLink)
	if link == "" {
		link = strings.TrimSpace(item.Link)
	}
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		c.logger.Warn("skipping item without usable URL", "keyword", keyword, "title", item.Title)
		return models.ArticleRef{}, false
	}

	publishedAt, err := time.Parse(time.RFC1123Z, item.PubDate)
	if err != nil {
		c.logger.Warn("skipping item with unparseable pubDate",
			"keyword", keyword,
			"url", link,
			"pub_date", item.PubDate,
		)
		return models.ArticleRef{}, false
	}

	return models.ArticleRef{
		SourceURL:      link,
		Title:          stripHTML(item.Title),
		Description:    stripHTML(item.Description),
		PublishedAt:    publishedAt,
		KeywordMatched: keyword,
		CollectedAt:    time.Now(),
	}, true
}

// stripHTML removes the markup and entities Naver embeds in titles and
// snippets (<b> highlights, &quot; and friends).
func stripHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}
