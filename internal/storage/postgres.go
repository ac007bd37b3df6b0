package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/econpulse/econpulse/internal/models"
)

// PostgresSink implements Sink on PostgreSQL using natural-key upserts.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink wraps an open database handle.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Connect opens and pings a PostgreSQL connection.
func Connect(ctx context.Context, url string, maxConns int, connMaxLifetime time.Duration) (*sql.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// InitSchema applies the DDL. Safe to re-run.
func (s *PostgresSink) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) UpsertArticleRef(ctx context.Context, ref models.ArticleRef) error {
	query := `
		INSERT INTO article_refs (source_url, title, description, published_at, keyword_matched, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_url) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			published_at = EXCLUDED.published_at,
			keyword_matched = EXCLUDED.keyword_matched,
			collected_at = EXCLUDED.collected_at
	`
	_, err := s.db.ExecContext(ctx, query,
		ref.SourceURL, ref.Title, ref.Description, ref.PublishedAt, ref.KeywordMatched, ref.CollectedAt)
	if err != nil {
		return &PersistenceError{Op: "upsert article_ref", Key: ref.SourceURL, Err: err}
	}
	return nil
}

func (s *PostgresSink) UpsertArticleContent(ctx context.Context, content models.ArticleContent) error {
	query := `
		INSERT INTO article_contents (source_url, full_text, crawl_status, crawl_error, crawled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_url) DO UPDATE SET
			full_text = EXCLUDED.full_text,
			crawl_status = EXCLUDED.crawl_status,
			crawl_error = EXCLUDED.crawl_error,
			crawled_at = EXCLUDED.crawled_at
	`
	_, err := s.db.ExecContext(ctx, query,
		content.SourceURL, content.FullText, content.Status, content.CrawlError, content.CrawledAt)
	if err != nil {
		return &PersistenceError{Op: "upsert article_content", Key: content.SourceURL, Err: err}
	}
	return nil
}

func (s *PostgresSink) UpsertEnrichedArticle(ctx context.Context, enriched models.EnrichedArticle) error {
	tags, err := json.Marshal(enriched.Tags)
	if err != nil {
		return &PersistenceError{Op: "marshal tags", Key: enriched.SourceURL, Err: err}
	}
	background, err := json.Marshal(enriched.Background)
	if err != nil {
		return &PersistenceError{Op: "marshal background", Key: enriched.SourceURL, Err: err}
	}
	keywords, err := json.Marshal(enriched.Keywords)
	if err != nil {
		return &PersistenceError{Op: "marshal keywords", Key: enriched.SourceURL, Err: err}
	}
	related, err := json.Marshal(enriched.RelatedStats)
	if err != nil {
		return &PersistenceError{Op: "marshal related_stats", Key: enriched.SourceURL, Err: err}
	}

	query := `
		INSERT INTO enriched_articles (source_url, category, summary, tags, background, keywords, related_stats, model_version, enriched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source_url) DO UPDATE SET
			category = EXCLUDED.category,
			summary = EXCLUDED.summary,
			tags = EXCLUDED.tags,
			background = EXCLUDED.background,
			keywords = EXCLUDED.keywords,
			related_stats = EXCLUDED.related_stats,
			model_version = EXCLUDED.model_version,
			enriched_at = EXCLUDED.enriched_at
	`
	_, err = s.db.ExecContext(ctx, query,
		enriched.SourceURL, enriched.Category, enriched.Summary, tags, background, keywords, related,
		enriched.ModelVersion, enriched.EnrichedAt)
	if err != nil {
		return &PersistenceError{Op: "upsert enriched_article", Key: enriched.SourceURL, Err: err}
	}
	return nil
}

func (s *PostgresSink) UpsertObservation(ctx context.Context, obs models.IndicatorObservation) error {
	query := `
		INSERT INTO indicator_observations (indicator_code, observation_date, value, unit, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (indicator_code, observation_date) DO UPDATE SET
			value = EXCLUDED.value,
			unit = EXCLUDED.unit,
			updated_at = now()
	`
	_, err := s.db.ExecContext(ctx, query, obs.IndicatorCode, obs.Date, obs.Value, obs.Unit)
	if err != nil {
		key := fmt.Sprintf("%s@%s", obs.IndicatorCode, obs.Date.Format("2006-01-02"))
		return &PersistenceError{Op: "upsert observation", Key: key, Err: err}
	}
	return nil
}

func (s *PostgresSink) RecordRunState(ctx context.Context, state models.RunState) error {
	query := `
		INSERT INTO pipeline_run_states (run_id, kind, stage, started_at, completed_at, items_succeeded, items_failed, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		state.RunID, state.Kind, state.Stage, state.StartedAt, state.CompletedAt,
		state.ItemsSucceeded, state.ItemsFailed, state.LastError)
	if err != nil {
		return &PersistenceError{Op: "record run_state", Key: state.RunID, Err: err}
	}
	return nil
}

const articleColumns = `
	r.source_url, r.title, r.description, r.published_at, r.keyword_matched, r.collected_at,
	c.full_text, c.crawl_status, c.crawl_error, c.crawled_at,
	e.category, e.summary, e.tags, e.background, e.keywords, e.related_stats, e.model_version, e.enriched_at
`

func (s *PostgresSink) GetArticle(ctx context.Context, sourceURL string) (*Article, error) {
	query := `
		SELECT ` + articleColumns + `
		FROM article_refs r
		LEFT JOIN article_contents c ON c.source_url = r.source_url
		LEFT JOIN enriched_articles e ON e.source_url = r.source_url
		WHERE r.source_url = $1
	`

	article, err := scanArticle(s.db.QueryRowContext(ctx, query, sourceURL))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query article: %w", err)
	}
	return article, nil
}

func (s *PostgresSink) ListArticles(ctx context.Context, filter ArticleFilter, limit, offset int) ([]Article, error) {
	var conditions []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Keyword != "" {
		conditions = append(conditions, "r.keyword_matched = "+arg(filter.Keyword))
	}
	if filter.Category != "" {
		conditions = append(conditions, "e.category = "+arg(filter.Category))
	}
	if filter.CrawlStatus != "" {
		conditions = append(conditions, "c.crawl_status = "+arg(filter.CrawlStatus))
	}
	if !filter.PublishedFrom.IsZero() {
		conditions = append(conditions, "r.published_at >= "+arg(filter.PublishedFrom))
	}
	if !filter.PublishedTo.IsZero() {
		conditions = append(conditions, "r.published_at <= "+arg(filter.PublishedTo))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + articleColumns + `
		FROM article_refs r
		LEFT JOIN article_contents c ON c.source_url = r.source_url
		LEFT JOIN enriched_articles e ON e.source_url = r.source_url
		` + where + `
		ORDER BY r.published_at DESC
		LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, *article)
	}
	return articles, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*Article, error) {
	var article Article
	var fullText, crawlStatus, crawlError sql.NullString
	var crawledAt sql.NullTime
	var category, summary, modelVersion sql.NullString
	var tagsJSON, backgroundJSON, keywordsJSON, relatedJSON []byte
	var enrichedAt sql.NullTime

	err := row.Scan(
		&article.Ref.SourceURL,
		&article.Ref.Title,
		&article.Ref.Description,
		&article.Ref.PublishedAt,
		&article.Ref.KeywordMatched,
		&article.Ref.CollectedAt,
		&fullText,
		&crawlStatus,
		&crawlError,
		&crawledAt,
		&category,
		&summary,
		&tagsJSON,
		&backgroundJSON,
		&keywordsJSON,
		&relatedJSON,
		&modelVersion,
		&enrichedAt,
	)
	if err != nil {
		return nil, err
	}

	if crawlStatus.Valid {
		article.Content = &models.ArticleContent{
			SourceURL:  article.Ref.SourceURL,
			FullText:   fullText.String,
			Status:     models.CrawlStatus(crawlStatus.String),
			CrawlError: crawlError.String,
			CrawledAt:  crawledAt.Time,
		}
	}

	if category.Valid {
		enriched := &models.EnrichedArticle{
			SourceURL:    article.Ref.SourceURL,
			Category:     models.Category(category.String),
			Summary:      summary.String,
			ModelVersion: modelVersion.String,
			EnrichedAt:   enrichedAt.Time,
		}
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &enriched.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		if len(backgroundJSON) > 0 {
			if err := json.Unmarshal(backgroundJSON, &enriched.Background); err != nil {
				return nil, fmt.Errorf("unmarshal background: %w", err)
			}
		}
		if len(keywordsJSON) > 0 {
			if err := json.Unmarshal(keywordsJSON, &enriched.Keywords); err != nil {
				return nil, fmt.Errorf("unmarshal keywords: %w", err)
			}
		}
		if len(relatedJSON) > 0 {
			if err := json.Unmarshal(relatedJSON, &enriched.RelatedStats); err != nil {
				return nil, fmt.Errorf("unmarshal related_stats: %w", err)
			}
		}
		article.Enriched = enriched
	}

	return &article, nil
}
