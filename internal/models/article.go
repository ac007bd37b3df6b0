package models

import (
	"time"
)

// ArticleRef identifies one news article across all pipeline stages.
// The source URL is the natural key: no two refs may exist for the same URL.
type ArticleRef struct {
	SourceURL      string    `json:"source_url"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	PublishedAt    time.Time `json:"published_at"`
	KeywordMatched string    `json:"keyword_matched"`
	CollectedAt    time.Time `json:"collected_at"`
}

// CrawlStatus indicates the crawl state of an article's content.
type CrawlStatus string

const (
	CrawlStatusPending CrawlStatus = "pending" // ref stored, body not yet fetched
	CrawlStatusOK      CrawlStatus = "ok"      // body extracted successfully
	CrawlStatusFailed  CrawlStatus = "failed"  // fetch or extraction failed
)

// ArticleContent holds the extracted full text for one article (1:1 with ArticleRef).
// A failed crawl leaves FullText empty but preserves the row for retry.
type ArticleContent struct {
	SourceURL  string      `json:"source_url"`
	FullText   string      `json:"full_text"`
	Status     CrawlStatus `json:"crawl_status"`
	CrawlError string      `json:"crawl_error,omitempty"`
	CrawledAt  time.Time   `json:"crawled_at"`
}

// Category is one of the fixed Korean classification labels.
type Category string

const (
	CategoryFinance  Category = "금융"
	CategoryStocks   Category = "증권"
	CategoryGlobal   Category = "글로벌 경제"
	CategoryConsumer Category = "생활 경제"
	CategoryOther    Category = "기타"
)

// KnownCategories lists the labels the enrichment backend may return.
// CategoryOther is the fallback for anything outside the set.
var KnownCategories = []Category{
	CategoryFinance,
	CategoryStocks,
	CategoryGlobal,
	CategoryConsumer,
}

// ValidCategory reports whether c is one of the known labels.
func ValidCategory(c Category) bool {
	for _, k := range KnownCategories {
		if c == k {
			return true
		}
	}
	return false
}

// BackgroundItem is one piece of explanatory context produced by enrichment.
type BackgroundItem struct {
	Label   string `json:"label"`
	Content string `json:"content"`
}

// KeywordItem is one extracted key term with a short reader-facing description.
type KeywordItem struct {
	Term        string `json:"term"`
	Description string `json:"description"`
}

// RelatedStatistic links an article to one catalog indicator, with the
// model's stated reason for the connection. Code must come from the catalog.
type RelatedStatistic struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// EnrichedArticle holds the AI-derived analysis for one article (1:1 with
// ArticleRef, created only after a successful crawl). Re-enrichment with a
// newer model overwrites the row, keyed by SourceURL.
type EnrichedArticle struct {
	SourceURL    string           `json:"source_url"`
	Category     Category         `json:"category"`
	Summary      string           `json:"summary"`
	Tags         []string           `json:"tags,omitempty"`
	Background   []BackgroundItem   `json:"background,omitempty"`
	Keywords     []KeywordItem      `json:"keywords,omitempty"`
	RelatedStats []RelatedStatistic `json:"related_statistics,omitempty"`
	ModelVersion string             `json:"model_version"`
	EnrichedAt   time.Time          `json:"enriched_at"`
}
