// Package enrichment sends extracted article text to an AI analysis backend
// and converts the structured response into enriched article records.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/econpulse/econpulse/internal/httpclient"
	"github.com/econpulse/econpulse/internal/models"
)

// Engine produces an EnrichedArticle from crawled content.
type Engine interface {
	// Enrich analyzes one article's full text. Callers must only pass content
	// with a successful crawl status.
	Enrich(ctx context.Context, ref models.ArticleRef, content models.ArticleContent) (*models.EnrichedArticle, error)
}

// EnrichmentFailed reports that the backend returned unusable structured
// output even after the strict retry.
type EnrichmentFailed struct {
	SourceURL string
	Err       error
}

func (e *EnrichmentFailed) Error() string {
	return fmt.Sprintf("enrichment failed for %s: %v", e.SourceURL, e.Err)
}

func (e *EnrichmentFailed) Unwrap() error {
	return e.Err
}

func errMissingField(name string) error {
	return fmt.Errorf("missing or empty field %q", name)
}

func errBadCategory(got string) error {
	return fmt.Errorf("category %q not in the known label set", got)
}

func errMissingBackground(i int) error {
	return fmt.Errorf("background_knowledge[%d] has empty label or content", i)
}

func errMissingKeyword(i int) error {
	return fmt.Errorf("keywords[%d] has empty term", i)
}

func errMissingRelated(i int) error {
	return fmt.Errorf("related_statistics[%d] has empty code or reason", i)
}

// Config holds the analysis backend parameters. The backend is an external
// source like any other: it gets its own token bucket and retry policy.
type Config struct {
	Model          string
	Temperature    float32
	MaxTokens      int
	MaxInputRune   int           // input budget before sentence-aware truncation
	CallTimeout    time.Duration // per-attempt deadline
	RequestsPerSec float64       // token bucket refill rate
	Burst          int           // token bucket capacity
	Retry          httpclient.RetryPolicy
}

// DefaultConfig returns the backend defaults used in production.
func DefaultConfig() Config {
	return Config{
		Model:          openai.GPT4oMini,
		Temperature:    0.2,
		MaxTokens:      2000,
		MaxInputRune:   6000,
		CallTimeout:    60 * time.Second,
		RequestsPerSec: 2,
		Burst:          2,
		Retry:          httpclient.DefaultRetryPolicy(),
	}
}

// chatCompleter is the slice of the OpenAI client the engine uses, extracted
// so tests can substitute a scripted backend.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIEngine implements Engine against the OpenAI chat completion API.
type OpenAIEngine struct {
	client       chatCompleter
	config       Config
	limiter      *rate.Limiter
	prompt       string
	strictPrompt string
	knownCodes   map[string]bool
	logger       *slog.Logger
}

// NewOpenAIEngine creates the production engine. The indicator catalog is
// injected into the prompt so the model can link articles to known series.
func NewOpenAIEngine(apiKey string, indicators []models.Indicator, config Config, logger *slog.Logger) *OpenAIEngine {
	return newEngineWithClient(openai.NewClient(apiKey), indicators, config, logger)
}

// newEngineWithClient wires a custom backend, used by tests.
func newEngineWithClient(client chatCompleter, indicators []models.Indicator, config Config, logger *slog.Logger) *OpenAIEngine {
	if config.Model == "" {
		config = DefaultConfig()
	}
	if config.RequestsPerSec <= 0 {
		config.RequestsPerSec = 1
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	knownCodes := make(map[string]bool, len(indicators))
	for _, ind := range indicators {
		knownCodes[ind.Code] = true
	}

	return &OpenAIEngine{
		client:       client,
		config:       config,
		limiter:      rate.NewLimiter(rate.Limit(config.RequestsPerSec), config.Burst),
		prompt:       buildSystemPrompt(false, indicators),
		strictPrompt: buildSystemPrompt(true, indicators),
		knownCodes:   knownCodes,
		logger:       logger,
	}
}

// ModelVersion returns the model identifier recorded on enriched articles.
func (e *OpenAIEngine) ModelVersion() string {
	return e.config.Model
}

// Enrich sends the article text to the backend and validates the structured
// response. A malformed response gets exactly one retry with a stricter
// prompt; a second failure surfaces EnrichmentFailed.
func (e *OpenAIEngine) Enrich(ctx context.Context, ref models.ArticleRef, content models.ArticleContent) (*models.EnrichedArticle, error) {
	if content.Status != models.CrawlStatusOK {
		return nil, fmt.Errorf("refusing to enrich %s: crawl status is %s", ref.SourceURL, content.Status)
	}

	text := TruncateAtSentence(content.FullText, e.config.MaxInputRune)

	payload, err := e.analyze(ctx, ref, text, false)
	if err != nil {
		return nil, err
	}

	if validationErr := payload.validate(); validationErr != nil {
		e.logger.Warn("malformed analysis response, retrying with strict prompt",
			"url", ref.SourceURL,
			"error", validationErr,
		)

		payload, err = e.analyze(ctx, ref, text, true)
		if err != nil {
			return nil, err
		}
		if validationErr = payload.validate(); validationErr != nil {
			return nil, &EnrichmentFailed{SourceURL: ref.SourceURL, Err: validationErr}
		}
	}

	return &models.EnrichedArticle{
		SourceURL:    ref.SourceURL,
		Category:     models.Category(strings.TrimSpace(payload.Category)),
		Summary:      strings.TrimSpace(payload.Summary),
		Tags:         payload.Tags,
		Background:   payload.Background,
		Keywords:     payload.Keywords,
		RelatedStats: e.filterRelated(ref.SourceURL, payload.RelatedStats),
		ModelVersion: e.config.Model,
		EnrichedAt:   time.Now(),
	}, nil
}

// filterRelated drops hallucinated indicator codes and caps the list at two.
func (e *OpenAIEngine) filterRelated(sourceURL string, stats []models.RelatedStatistic) []models.RelatedStatistic {
	var kept []models.RelatedStatistic
	for _, rs := range stats {
		rs.Code = strings.TrimSpace(rs.Code)
		if !e.knownCodes[rs.Code] {
			e.logger.Warn("dropping unknown related indicator code", "url", sourceURL, "code", rs.Code)
			continue
		}
		kept = append(kept, rs)
		if len(kept) == 2 {
			break
		}
	}
	return kept
}

// analyze performs one quota-gated, retried completion call. Transient backend
// failures (429, 5xx, timeouts) are retried under the engine's policy; only
// the response content reaching the caller decides the strict-prompt retry.
func (e *OpenAIEngine) analyze(ctx context.Context, ref models.ArticleRef, text string, strict bool) (*analysisPayload, error) {
	prompt := e.prompt
	if strict {
		prompt = e.strictPrompt
	}

	var resp openai.ChatCompletionResponse

	err := httpclient.Retry(ctx, e.config.Retry, func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}

		apiCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
		defer cancel()

		start := time.Now()
		r, err := e.client.CreateChatCompletion(apiCtx, openai.ChatCompletionRequest{
			Model:       e.config.Model,
			Temperature: e.config.Temperature,
			MaxTokens:   e.config.MaxTokens,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: prompt},
				{Role: openai.ChatMessageRoleUser, Content: text},
			},
		})
		if err != nil {
			return classifyBackendError(err)
		}

		e.logger.Debug("analysis call complete",
			"url", ref.SourceURL,
			"strict", strict,
			"duration_ms", time.Since(start).Milliseconds(),
			"prompt_tokens", r.Usage.PromptTokens,
			"completion_tokens", r.Usage.CompletionTokens,
		)

		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("analysis call failed for %s: %w", ref.SourceURL, err)
	}

	if len(resp.Choices) == 0 {
		return nil, &EnrichmentFailed{SourceURL: ref.SourceURL, Err: fmt.Errorf("no completion choices from model %s", e.config.Model)}
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if raw == "" {
		return nil, &EnrichmentFailed{SourceURL: ref.SourceURL, Err: fmt.Errorf("empty response (finish_reason: %s)", resp.Choices[0].FinishReason)}
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		// Signal malformed output without failing: the caller decides whether
		// a strict retry is still available.
		e.logger.Warn("analysis response is not valid JSON", "url", ref.SourceURL, "error", err)
		return &analysisPayload{}, nil
	}

	return &payload, nil
}

// classifyBackendError maps completion failures onto the retry taxonomy:
// rate limits and server errors are transient, other API rejections are
// permanent, and transport failures follow the usual network rules.
func classifyBackendError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests, apiErr.HTTPStatusCode >= 500:
			return httpclient.NewTransientError(err)
		default:
			return httpclient.NewPermanentError(err)
		}
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return httpclient.NewTransientError(err)
	}
	return httpclient.NewTransientError(err)
}
