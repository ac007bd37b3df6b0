package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/econpulse/econpulse/internal/models"
)

// MemorySink implements Sink with mutex-guarded maps, for tests and local
// development without a database.
type MemorySink struct {
	mu           sync.Mutex
	refs         map[string]models.ArticleRef
	contents     map[string]models.ArticleContent
	enriched     map[string]models.EnrichedArticle
	observations map[obsKey]models.IndicatorObservation
	runStates    []models.RunState
}

type obsKey struct {
	code string
	date time.Time
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		refs:         make(map[string]models.ArticleRef),
		contents:     make(map[string]models.ArticleContent),
		enriched:     make(map[string]models.EnrichedArticle),
		observations: make(map[obsKey]models.IndicatorObservation),
	}
}

func (s *MemorySink) UpsertArticleRef(_ context.Context, ref models.ArticleRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[ref.SourceURL] = ref
	return nil
}

func (s *MemorySink) UpsertArticleContent(_ context.Context, content models.ArticleContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents[content.SourceURL] = content
	return nil
}

func (s *MemorySink) UpsertEnrichedArticle(_ context.Context, enriched models.EnrichedArticle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enriched[enriched.SourceURL] = enriched
	return nil
}

func (s *MemorySink) UpsertObservation(_ context.Context, obs models.IndicatorObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations[obsKey{code: obs.IndicatorCode, date: obs.Date}] = obs
	return nil
}

func (s *MemorySink) RecordRunState(_ context.Context, state models.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runStates = append(s.runStates, state)
	return nil
}

func (s *MemorySink) GetArticle(_ context.Context, sourceURL string) (*Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.refs[sourceURL]
	if !ok {
		return nil, nil
	}

	article := Article{Ref: ref}
	if content, ok := s.contents[sourceURL]; ok {
		article.Content = &content
	}
	if enriched, ok := s.enriched[sourceURL]; ok {
		article.Enriched = &enriched
	}
	return &article, nil
}

func (s *MemorySink) ListArticles(ctx context.Context, filter ArticleFilter, limit, offset int) ([]Article, error) {
	s.mu.Lock()
	urls := make([]string, 0, len(s.refs))
	for url := range s.refs {
		urls = append(urls, url)
	}
	s.mu.Unlock()

	var articles []Article
	for _, url := range urls {
		article, _ := s.GetArticle(ctx, url)
		if article == nil || !matches(*article, filter) {
			continue
		}
		articles = append(articles, *article)
	}

	sort.Slice(articles, func(i, j int) bool {
		return articles[i].Ref.PublishedAt.After(articles[j].Ref.PublishedAt)
	})

	if offset >= len(articles) {
		return nil, nil
	}
	articles = articles[offset:]
	if limit > 0 && len(articles) > limit {
		articles = articles[:limit]
	}
	return articles, nil
}

func matches(article Article, filter ArticleFilter) bool {
	if filter.Keyword != "" && article.Ref.KeywordMatched != filter.Keyword {
		return false
	}
	if filter.Category != "" && (article.Enriched == nil || article.Enriched.Category != filter.Category) {
		return false
	}
	if filter.CrawlStatus != "" && (article.Content == nil || article.Content.Status != filter.CrawlStatus) {
		return false
	}
	if !filter.PublishedFrom.IsZero() && article.Ref.PublishedAt.Before(filter.PublishedFrom) {
		return false
	}
	if !filter.PublishedTo.IsZero() && article.Ref.PublishedAt.After(filter.PublishedTo) {
		return false
	}
	return true
}

// Counts returns per-table row counts; used by tests asserting idempotence.
func (s *MemorySink) Counts() (refs, contents, enriched, observations int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refs), len(s.contents), len(s.enriched), len(s.observations)
}

// Observation returns a stored observation by natural key.
func (s *MemorySink) Observation(code string, date time.Time) (models.IndicatorObservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obs, ok := s.observations[obsKey{code: code, date: date}]
	return obs, ok
}

// RunStates returns a copy of the recorded run-state snapshots.
func (s *MemorySink) RunStates() []models.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RunState, len(s.runStates))
	copy(out, s.runStates)
	return out
}
