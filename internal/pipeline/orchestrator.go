// Package pipeline drives the news and indicator collection runs: fan-out
// with bounded workers per stage, per-item failure isolation, stage-level
// failure thresholds and append-only run-state auditing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/econpulse/econpulse/internal/collector"
	"github.com/econpulse/econpulse/internal/enrichment"
	"github.com/econpulse/econpulse/internal/indicators"
	"github.com/econpulse/econpulse/internal/models"
	"github.com/econpulse/econpulse/internal/storage"
)

// NewsSource yields article refs for a keyword set inside a time window.
type NewsSource interface {
	Collect(ctx context.Context, keywords []string, window collector.Window) *collector.Stream
}

// Crawler fetches and extracts one article's body. Failures are recorded on
// the returned content, never raised.
type Crawler interface {
	Fetch(ctx context.Context, ref models.ArticleRef) models.ArticleContent
}

// IndicatorSource fetches a catalog of indicator series for a period.
type IndicatorSource interface {
	Collect(ctx context.Context, catalog []models.Indicator, from, to time.Time) indicators.Result
}

// Recorder receives pipeline metrics. The orchestrator is the only emitter.
type Recorder interface {
	ItemSucceeded(stage models.RunStage)
	ItemFailed(stage models.RunStage)
	ObservationStored()
	RunFinished(kind models.RunKind, status models.RunStatus)
	SetStage(kind models.RunKind, stage models.RunStage)
}

// NopRecorder discards all metrics.
type NopRecorder struct{}

func (NopRecorder) ItemSucceeded(models.RunStage)                {}
func (NopRecorder) ItemFailed(models.RunStage)                   {}
func (NopRecorder) ObservationStored()                           {}
func (NopRecorder) RunFinished(models.RunKind, models.RunStatus) {}
func (NopRecorder) SetStage(models.RunKind, models.RunStage)     {}

// Config holds orchestration tunables.
type Config struct {
	Keywords         []string
	Indicators       []models.Indicator
	CollectionWindow time.Duration // how far back articles and observations reach
	CrawlWorkers     int           // capped by the crawl client's concurrency
	EnrichWorkers    int           // capped by the enrichment source's limits
	FailureThreshold float64       // stage failure ratio beyond which the run fails
}

// DefaultConfig returns sensible orchestration defaults.
func DefaultConfig() Config {
	return Config{
		CollectionWindow: 24 * time.Hour,
		CrawlWorkers:     4,
		EnrichWorkers:    3,
		FailureThreshold: 0.5,
	}
}

// Result summarizes one run. The run never reports success while silently
// losing items: every failure is tallied and aggregated into Err.
type Result struct {
	RunID     string
	Kind      models.RunKind
	Status    models.RunStatus
	Succeeded int
	Failed    int
	Err       error
}

// Orchestrator coordinates the pipelines. It is the sole writer of run state
// and the sole caller of the storage sink.
type Orchestrator struct {
	news    NewsSource
	crawler Crawler
	engine  enrichment.Engine
	macro   IndicatorSource
	sink    storage.Sink
	metrics Recorder
	config  Config
	logger  *slog.Logger
	clock   func() time.Time
}

// New creates an orchestrator. Pass NopRecorder when metrics are not wired.
func New(
	news NewsSource,
	crawler Crawler,
	engine enrichment.Engine,
	macro IndicatorSource,
	sink storage.Sink,
	metrics Recorder,
	config Config,
	logger *slog.Logger,
) *Orchestrator {
	if config.CrawlWorkers <= 0 {
		config.CrawlWorkers = 1
	}
	if config.EnrichWorkers <= 0 {
		config.EnrichWorkers = 1
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 0.5
	}
	if config.CollectionWindow <= 0 {
		config.CollectionWindow = 24 * time.Hour
	}

	return &Orchestrator{
		news:    news,
		crawler: crawler,
		engine:  engine,
		macro:   macro,
		sink:    sink,
		metrics: metrics,
		config:  config,
		logger:  logger,
		clock:   time.Now,
	}
}

// RunAll executes the news and indicator pipelines concurrently. They share
// no mutable state beyond the sink, whose upserts commute across keys.
func (o *Orchestrator) RunAll(ctx context.Context) (news Result, macro Result) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		news = o.RunNews(ctx)
	}()
	go func() {
		defer wg.Done()
		macro = o.RunIndicators(ctx)
	}()

	wg.Wait()
	return news, macro
}

// run tracks the per-invocation state shared by the stage helpers.
type run struct {
	id        string
	kind      models.RunKind
	startedAt time.Time
	succeeded int
	failed    int
	errs      []error
}

func (r *run) fail(err error) {
	r.failed++
	r.errs = append(r.errs, err)
}

func (r *run) lastError() string {
	if len(r.errs) == 0 {
		return ""
	}
	return r.errs[len(r.errs)-1].Error()
}

// recordState persists one append-only run-state snapshot and publishes the
// stage gauge. Audit-trail write failures are logged, not fatal: losing a
// snapshot must not kill a healthy run.
func (o *Orchestrator) recordState(ctx context.Context, r *run, stage models.RunStage, done bool) {
	state := models.RunState{
		RunID:          r.id,
		Kind:           r.kind,
		Stage:          stage,
		StartedAt:      r.startedAt,
		ItemsSucceeded: r.succeeded,
		ItemsFailed:    r.failed,
		LastError:      r.lastError(),
	}
	if done {
		completed := o.clock()
		state.CompletedAt = &completed
	}

	if err := o.sink.RecordRunState(ctx, state); err != nil {
		o.logger.Error("failed to record run state", "run_id", r.id, "stage", stage, "error", err)
	}
	o.metrics.SetStage(r.kind, stage)
}

// overThreshold reports whether a stage's failure ratio exceeds the cutoff.
func (o *Orchestrator) overThreshold(failed, attempted int) bool {
	if attempted == 0 {
		return false
	}
	return float64(failed)/float64(attempted) > o.config.FailureThreshold
}

func (o *Orchestrator) finish(ctx context.Context, r *run, aborted bool) Result {
	status := models.RunStatusSuccess
	stage := models.StageCompleted
	switch {
	case aborted:
		status = models.RunStatusFailed
		stage = models.StageFailed
	case r.failed > 0:
		status = models.RunStatusPartial
	}

	o.recordState(ctx, r, stage, true)
	o.metrics.RunFinished(r.kind, status)

	o.logger.Info("run finished",
		"run_id", r.id,
		"kind", r.kind,
		"status", status,
		"succeeded", r.succeeded,
		"failed", r.failed,
	)

	return Result{
		RunID:     r.id,
		Kind:      r.kind,
		Status:    status,
		Succeeded: r.succeeded,
		Failed:    r.failed,
		Err:       errors.Join(r.errs...),
	}
}

// RunNews executes one news pipeline run:
// Collecting -> Crawling -> Enriching -> Persisting -> Completed/Failed.
func (o *Orchestrator) RunNews(ctx context.Context) Result {
	r := &run{
		id:        uuid.NewString(),
		kind:      models.RunKindNews,
		startedAt: o.clock(),
	}

	o.logger.Info("news run starting", "run_id", r.id, "keywords", len(o.config.Keywords))

	// Stage: Collecting.
	o.recordState(ctx, r, models.StageCollecting, false)

	window := collector.Window{From: r.startedAt.Add(-o.config.CollectionWindow), To: r.startedAt}
	stream := o.news.Collect(ctx, o.config.Keywords, window)

	var refs []models.ArticleRef
	for ref := range stream.Refs() {
		refs = append(refs, ref)
		o.metrics.ItemSucceeded(models.StageCollecting)
	}

	if err := stream.Err(); err != nil {
		// Keyword failures are stage-level: tolerated below the threshold,
		// fatal above it. What did arrive is still persisted either way.
		failedKeywords := countJoined(err)
		for _, kw := range splitJoined(err) {
			r.fail(kw)
			o.metrics.ItemFailed(models.StageCollecting)
		}
		o.logger.Warn("collection completed with failures",
			"run_id", r.id,
			"failed_keywords", failedKeywords,
			"refs", len(refs),
		)
		if o.overThreshold(failedKeywords, len(o.config.Keywords)) {
			o.persistRefs(ctx, r, refs)
			return o.finish(ctx, r, true)
		}
	}

	o.logger.Info("collection complete", "run_id", r.id, "refs", len(refs))

	// Stage: Crawling. Bounded fan-out; one slow or stalled fetch blocks only
	// its own worker.
	o.recordState(ctx, r, models.StageCrawling, false)
	contents := o.crawlAll(ctx, refs)

	crawlFailed := 0
	for _, content := range contents {
		if content.Status != models.CrawlStatusOK {
			crawlFailed++
			r.fail(fmt.Errorf("crawl %s: %s", content.SourceURL, content.CrawlError))
			o.metrics.ItemFailed(models.StageCrawling)
		} else {
			o.metrics.ItemSucceeded(models.StageCrawling)
		}
	}

	if o.overThreshold(crawlFailed, len(refs)) {
		o.persistRefs(ctx, r, refs)
		o.persistContents(ctx, r, contents)
		return o.finish(ctx, r, true)
	}

	// Stage: Enriching. Only content that crawled clean is eligible.
	o.recordState(ctx, r, models.StageEnriching, false)

	refByURL := make(map[string]models.ArticleRef, len(refs))
	for _, ref := range refs {
		refByURL[ref.SourceURL] = ref
	}

	var eligible []models.ArticleContent
	for _, content := range contents {
		if content.Status == models.CrawlStatusOK {
			eligible = append(eligible, content)
		}
	}

	enriched, enrichErrs := o.enrichAll(ctx, refByURL, eligible)
	for _, err := range enrichErrs {
		r.fail(err)
		o.metrics.ItemFailed(models.StageEnriching)
	}
	for range enriched {
		o.metrics.ItemSucceeded(models.StageEnriching)
	}

	if o.overThreshold(len(enrichErrs), len(eligible)) {
		o.persistRefs(ctx, r, refs)
		o.persistContents(ctx, r, contents)
		return o.finish(ctx, r, true)
	}

	// Stage: Persisting. Per-article order ref -> content -> enrichment is
	// enforced by write order; one article's failure never blocks siblings.
	o.recordState(ctx, r, models.StagePersisting, false)

	persistFailed := 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			r.fail(ctx.Err())
			break
		}
		if err := o.persistArticle(ctx, ref, contents, enriched); err != nil {
			persistFailed++
			r.fail(err)
			o.metrics.ItemFailed(models.StagePersisting)
			continue
		}
		r.succeeded++
		o.metrics.ItemSucceeded(models.StagePersisting)
	}

	if o.overThreshold(persistFailed, len(refs)) {
		return o.finish(ctx, r, true)
	}

	return o.finish(ctx, r, false)
}

// crawlAll fans refs out over the crawl worker pool.
func (o *Orchestrator) crawlAll(ctx context.Context, refs []models.ArticleRef) []models.ArticleContent {
	contents := make([]models.ArticleContent, len(refs))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, o.config.CrawlWorkers)

	for i, ref := range refs {
		if ctx.Err() != nil {
			// Cancelled between items: mark the rest failed without fetching.
			contents[i] = models.ArticleContent{
				SourceURL:  ref.SourceURL,
				Status:     models.CrawlStatusFailed,
				CrawlError: ctx.Err().Error(),
				CrawledAt:  o.clock(),
			}
			continue
		}

		wg.Add(1)
		go func(i int, ref models.ArticleRef) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			contents[i] = o.crawler.Fetch(ctx, ref)
		}(i, ref)
	}

	wg.Wait()
	return contents
}

// enrichAll fans eligible contents out over the enrichment worker pool.
func (o *Orchestrator) enrichAll(ctx context.Context, refByURL map[string]models.ArticleRef, contents []models.ArticleContent) (map[string]models.EnrichedArticle, []error) {
	enriched := make(map[string]models.EnrichedArticle, len(contents))
	var errs []error

	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, o.config.EnrichWorkers)

	for _, content := range contents {
		if ctx.Err() != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("enrich %s: %w", content.SourceURL, ctx.Err()))
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(content models.ArticleContent) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			article, err := o.engine.Enrich(ctx, refByURL[content.SourceURL], content)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("enrich %s: %w", content.SourceURL, err))
				return
			}
			enriched[content.SourceURL] = *article
		}(content)
	}

	wg.Wait()
	return enriched, errs
}

// persistArticle writes one article's chain in dependency order.
func (o *Orchestrator) persistArticle(ctx context.Context, ref models.ArticleRef, contents []models.ArticleContent, enriched map[string]models.EnrichedArticle) error {
	if err := o.sink.UpsertArticleRef(ctx, ref); err != nil {
		return err
	}

	for _, content := range contents {
		if content.SourceURL != ref.SourceURL {
			continue
		}
		if err := o.sink.UpsertArticleContent(ctx, content); err != nil {
			return err
		}
		break
	}

	if article, ok := enriched[ref.SourceURL]; ok {
		if err := o.sink.UpsertEnrichedArticle(ctx, article); err != nil {
			return err
		}
	}

	return nil
}

// persistRefs salvages collected refs when a later stage aborts the run.
func (o *Orchestrator) persistRefs(ctx context.Context, r *run, refs []models.ArticleRef) {
	for _, ref := range refs {
		if err := o.sink.UpsertArticleRef(ctx, ref); err != nil {
			r.fail(err)
		}
	}
}

// persistContents salvages crawl results when a later stage aborts the run.
func (o *Orchestrator) persistContents(ctx context.Context, r *run, contents []models.ArticleContent) {
	for _, content := range contents {
		if err := o.sink.UpsertArticleContent(ctx, content); err != nil {
			r.fail(err)
		}
	}
}

// RunIndicators executes one indicator pipeline run:
// Collecting -> Persisting -> Completed/Failed.
func (o *Orchestrator) RunIndicators(ctx context.Context) Result {
	r := &run{
		id:        uuid.NewString(),
		kind:      models.RunKindIndicators,
		startedAt: o.clock(),
	}

	o.logger.Info("indicator run starting", "run_id", r.id, "indicators", len(o.config.Indicators))

	o.recordState(ctx, r, models.StageCollecting, false)

	from := r.startedAt.Add(-o.config.CollectionWindow)
	result := o.macro.Collect(ctx, o.config.Indicators, from, r.startedAt)

	for code, err := range result.Failed {
		r.fail(fmt.Errorf("indicator %s: %w", code, err))
		o.metrics.ItemFailed(models.StageCollecting)
	}

	if o.overThreshold(len(result.Failed), len(o.config.Indicators)) {
		return o.finish(ctx, r, true)
	}

	o.recordState(ctx, r, models.StagePersisting, false)

	persistFailed := 0
	for _, obs := range result.Observations {
		if ctx.Err() != nil {
			r.fail(ctx.Err())
			break
		}
		if err := o.sink.UpsertObservation(ctx, obs); err != nil {
			persistFailed++
			r.fail(err)
			o.metrics.ItemFailed(models.StagePersisting)
			continue
		}
		r.succeeded++
		o.metrics.ObservationStored()
	}

	if o.overThreshold(persistFailed, len(result.Observations)) {
		return o.finish(ctx, r, true)
	}

	return o.finish(ctx, r, false)
}

// countJoined counts the leaves of an errors.Join tree.
func countJoined(err error) int {
	return len(splitJoined(err))
}

// splitJoined flattens an errors.Join tree into its leaf errors.
func splitJoined(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var leaves []error
		for _, child := range joined.Unwrap() {
			leaves = append(leaves, splitJoined(child)...)
		}
		return leaves
	}
	return []error{err}
}
