package crawler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/econpulse/econpulse/internal/httpclient"
	"github.com/econpulse/econpulse/internal/models"
)

const articleSentence = "한국은행 금융통화위원회는 오늘 기준금리를 현 수준에서 동결하기로 결정했다고 발표했다. "

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastClient() *httpclient.Client {
	return httpclient.New(httpclient.Config{
		Source:         "test-crawl",
		RequestsPerSec: 1000,
		Burst:          1000,
		MaxConcurrent:  4,
		CallTimeout:    5 * time.Second,
		Retry: httpclient.RetryPolicy{
			MaxRetries:     1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			BackoffFactor:  2.0,
		},
	}, testLogger())
}

func articleHTML(paragraphs int) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>뉴스</title><script>var ads = true;</script></head><body>`)
	b.WriteString(`<nav>메뉴</nav><header>헤더</header>`)
	b.WriteString(`<article>`)
	for i := 0; i < paragraphs; i++ {
		b.WriteString("<p>" + articleSentence + "</p>")
	}
	b.WriteString(`</article><footer>푸터</footer></body></html>`)
	return b.String()
}

func TestFetchExtractsArticleBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, articleHTML(10))
	}))
	defer server.Close()

	c := New(fastClient(), 50, testLogger())
	content := c.Fetch(context.Background(), models.ArticleRef{SourceURL: server.URL + "/article"})

	if content.Status != models.CrawlStatusOK {
		t.Fatalf("status %s (%s), want ok", content.Status, content.CrawlError)
	}
	if !strings.Contains(content.FullText, "기준금리를 현 수준에서 동결") {
		t.Errorf("body text missing, got %q", content.FullText)
	}
	if strings.Contains(content.FullText, "var ads") || strings.Contains(content.FullText, "메뉴") {
		t.Errorf("boilerplate leaked into body: %q", content.FullText)
	}
}

func TestFetchRejectsShortExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body><p>짧은 본문</p></body></html>`)
	}))
	defer server.Close()

	c := New(fastClient(), 200, testLogger())
	content := c.Fetch(context.Background(), models.ArticleRef{SourceURL: server.URL + "/short"})

	if content.Status != models.CrawlStatusFailed {
		t.Fatalf("status %s, want failed for sub-minimum body", content.Status)
	}
	if content.FullText != "" {
		t.Errorf("failed crawl must not carry text, got %q", content.FullText)
	}
	if content.CrawlError == "" {
		t.Error("failed crawl must record the reason")
	}
}

func TestFetchRecordsDownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(fastClient(), 50, testLogger())
	content := c.Fetch(context.Background(), models.ArticleRef{SourceURL: server.URL + "/gone"})

	if content.Status != models.CrawlStatusFailed {
		t.Fatalf("status %s, want failed", content.Status)
	}
	if content.CrawlError == "" {
		t.Error("download failure must record the reason")
	}
}

func TestFetchCachesPerURL(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, articleHTML(10))
	}))
	defer server.Close()

	c := New(fastClient(), 50, testLogger())
	ref := models.ArticleRef{SourceURL: server.URL + "/cached"}

	first := c.Fetch(context.Background(), ref)
	second := c.Fetch(context.Background(), ref)

	if hits.Load() != 1 {
		t.Errorf("URL fetched %d times, want 1", hits.Load())
	}
	if first.FullText != second.FullText || first.Status != second.Status {
		t.Error("cached result differs from original fetch")
	}
}

func TestExtractParagraphsFallback(t *testing.T) {
	// Layout without semantic article markup; paragraphs only.
	html := `<html><body>
		<script>trackPageView();</script>
		<div class="article_body">
			<p>` + articleSentence + `</p>
			<p>` + articleSentence + `</p>
		</div>
	</body></html>`

	text := extractParagraphs(html)
	if !strings.Contains(text, "기준금리") {
		t.Errorf("paragraph sweep missed body text: %q", text)
	}
	if strings.Contains(text, "trackPageView") {
		t.Errorf("script content leaked: %q", text)
	}
}

func TestNormalizeText(t *testing.T) {
	in := "첫 줄\r\n\r\n  둘째 줄  \n\n\n셋째 줄\r"
	want := "첫 줄\n둘째 줄\n셋째 줄"
	if got := normalizeText(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
