// Package storage defines the persistence sink consumed by the pipeline and
// its PostgreSQL and in-memory implementations. All writes are idempotent
// upserts keyed on natural keys (source URL, indicator code + date).
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/econpulse/econpulse/internal/models"
)

// Sink is the pipeline's persistence boundary. Implementations must be safe
// for concurrent writers; writes to the same key are last-writer-wins.
type Sink interface {
	UpsertArticleRef(ctx context.Context, ref models.ArticleRef) error
	UpsertArticleContent(ctx context.Context, content models.ArticleContent) error
	UpsertEnrichedArticle(ctx context.Context, enriched models.EnrichedArticle) error
	UpsertObservation(ctx context.Context, obs models.IndicatorObservation) error

	// RecordRunState appends one run-state snapshot; rows are never updated.
	RecordRunState(ctx context.Context, state models.RunState) error

	GetArticle(ctx context.Context, sourceURL string) (*Article, error)
	ListArticles(ctx context.Context, filter ArticleFilter, limit, offset int) ([]Article, error)
}

// Article joins the per-stage records for one source URL.
type Article struct {
	Ref      models.ArticleRef
	Content  *models.ArticleContent
	Enriched *models.EnrichedArticle
}

// ArticleFilter narrows ListArticles results.
type ArticleFilter struct {
	Keyword       string
	Category      models.Category
	CrawlStatus   models.CrawlStatus
	PublishedFrom time.Time
	PublishedTo   time.Time
}

// PersistenceError wraps a sink write failure so the orchestrator can
// attribute it to the persistence stage.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
