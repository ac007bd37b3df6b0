package enrichment

import (
	"context"
	"strings"
	"time"

	"github.com/econpulse/econpulse/internal/models"
)

// MockEngine provides a rule-based Engine implementation for tests and for
// running the pipeline without an API key.
type MockEngine struct{}

// NewMockEngine creates a mock engine.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// Enrich produces a deterministic enrichment from simple keyword rules.
func (m *MockEngine) Enrich(_ context.Context, ref models.ArticleRef, content models.ArticleContent) (*models.EnrichedArticle, error) {
	if content.Status != models.CrawlStatusOK {
		return nil, &EnrichmentFailed{SourceURL: ref.SourceURL, Err: errMissingField("full_text")}
	}

	return &models.EnrichedArticle{
		SourceURL:    ref.SourceURL,
		Category:     inferCategory(content.FullText),
		Summary:      firstSentence(content.FullText),
		Tags:         []string{"모의분석"},
		ModelVersion: "mock-v1",
		EnrichedAt:   time.Now(),
	}, nil
}

func inferCategory(text string) models.Category {
	switch {
	case strings.Contains(text, "코스피") || strings.Contains(text, "주가") || strings.Contains(text, "증시"):
		return models.CategoryStocks
	case strings.Contains(text, "연준") || strings.Contains(text, "달러") || strings.Contains(text, "FOMC"):
		return models.CategoryGlobal
	case strings.Contains(text, "물가") || strings.Contains(text, "소비"):
		return models.CategoryConsumer
	default:
		return models.CategoryFinance
	}
}

func firstSentence(text string) string {
	for _, sep := range []string{". ", ".\n", "다. "} {
		if idx := strings.Index(text, sep); idx > 0 {
			return strings.TrimSpace(text[:idx+len(sep)-1])
		}
	}
	if len(text) > 120 {
		return strings.TrimSpace(string([]rune(text)[:40]))
	}
	return strings.TrimSpace(text)
}
