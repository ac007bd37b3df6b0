package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/econpulse/econpulse/internal/collector"
	"github.com/econpulse/econpulse/internal/config"
	"github.com/econpulse/econpulse/internal/crawler"
	"github.com/econpulse/econpulse/internal/enrichment"
	"github.com/econpulse/econpulse/internal/httpclient"
	"github.com/econpulse/econpulse/internal/indicators"
	"github.com/econpulse/econpulse/internal/logging"
	"github.com/econpulse/econpulse/internal/metrics"
	"github.com/econpulse/econpulse/internal/models"
	"github.com/econpulse/econpulse/internal/pipeline"
	"github.com/econpulse/econpulse/internal/storage"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func main() {
	var (
		once   = flag.Bool("once", false, "run one collection cycle and exit")
		initDB = flag.Bool("init-db", false, "apply the database schema and exit")
	)
	flag.Parse()

	// .env is optional; real deployments inject environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting econpulse pipeline")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.ConnMaxLifetime)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected")

	sink := storage.NewPostgresSink(db)

	if *initDB {
		if err := sink.InitSchema(ctx); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		logger.Info("schema applied")
		return
	}

	catalog, err := config.LoadCatalog(cfg.Catalog)
	if err != nil {
		logger.Error("failed to load catalog", "error", err, "path", cfg.Catalog)
		os.Exit(1)
	}
	logger.Info("catalog loaded", "keywords", len(catalog.Keywords), "indicators", len(catalog.Indicators))

	// One rate-limited client per external source; nothing bypasses them.
	searchClient := httpclient.New(httpclient.Config{
		Source:         "naver-search",
		RequestsPerSec: 3,
		Burst:          3,
		MaxConcurrent:  2,
		CallTimeout:    30 * time.Second,
		Retry:          httpclient.DefaultRetryPolicy(),
	}, logger)

	crawlClient := httpclient.New(httpclient.Config{
		Source:         "article-crawl",
		RequestsPerSec: 5,
		Burst:          5,
		MaxConcurrent:  4,
		CallTimeout:    30 * time.Second,
		Retry:          httpclient.DefaultRetryPolicy(),
		UserAgent:      browserUA,
	}, logger)

	ecosClient := httpclient.New(httpclient.Config{
		Source:         "ecos",
		RequestsPerSec: 5,
		Burst:          5,
		MaxConcurrent:  2,
		CallTimeout:    30 * time.Second,
		Retry:          httpclient.DefaultRetryPolicy(),
		RedactToken:    cfg.Ecos.APIKey,
	}, logger)

	newsCollector := collector.New(searchClient, cfg.Naver.ClientID, cfg.Naver.ClientSecret, logger)
	articleCrawler := crawler.New(crawlClient, cfg.Pipeline.MinArticleChars, logger)
	indicatorCollector := indicators.New(ecosClient, cfg.Ecos.APIKey, logger)

	var engine enrichment.Engine
	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, using mock enrichment engine")
		engine = enrichment.NewMockEngine()
	} else {
		engine = enrichment.NewOpenAIEngine(cfg.OpenAI.APIKey, catalog.Indicators, enrichment.Config{
			Model:          cfg.OpenAI.Model,
			Temperature:    cfg.OpenAI.Temperature,
			MaxTokens:      cfg.OpenAI.MaxTokens,
			MaxInputRune:   cfg.OpenAI.MaxInputRunes,
			CallTimeout:    cfg.OpenAI.Timeout,
			RequestsPerSec: 2,
			Burst:          2,
			Retry:          httpclient.DefaultRetryPolicy(),
		}, logger)
	}

	pipelineMetrics, err := metrics.NewPipelineCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	orchestrator := pipeline.New(
		newsCollector,
		articleCrawler,
		engine,
		indicatorCollector,
		sink,
		pipelineMetrics,
		pipeline.Config{
			Keywords:         catalog.Keywords,
			Indicators:       catalog.Indicators,
			CollectionWindow: cfg.Pipeline.CollectionWindow,
			CrawlWorkers:     crawlClient.Concurrency(),
			EnrichWorkers:    cfg.Pipeline.EnrichWorkers,
			FailureThreshold: cfg.Pipeline.FailureThreshold,
		},
		logger,
	)

	if *once {
		news, macro := orchestrator.RunAll(ctx)
		logResult(logger, news)
		logResult(logger, macro)
		if news.Status == models.RunStatusFailed || macro.Status == models.RunStatusFailed {
			os.Exit(1)
		}
		return
	}

	// Metrics and health endpoints run alongside the scheduled pipeline.
	mux := http.NewServeMux()
	mux.Handle("/metrics", pipelineMetrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("http server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
		}
	}()

	runLoop(ctx, orchestrator, cfg.Pipeline.RunInterval, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	logger.Info("econpulse pipeline stopped")
}

// runLoop runs collection cycles on a ticker until the context is cancelled.
func runLoop(ctx context.Context, orchestrator *pipeline.Orchestrator, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("scheduler started", "interval", interval)

	// Initial run on start, then every tick.
	news, macro := orchestrator.RunAll(ctx)
	logResult(logger, news)
	logResult(logger, macro)

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			news, macro := orchestrator.RunAll(ctx)
			logResult(logger, news)
			logResult(logger, macro)
		}
	}
}

func logResult(logger *slog.Logger, result pipeline.Result) {
	attrs := []any{
		"run_id", result.RunID,
		"kind", result.Kind,
		"status", result.Status,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	}
	if result.Err != nil {
		attrs = append(attrs, "error_summary", result.Err.Error())
	}

	switch result.Status {
	case models.RunStatusFailed:
		logger.Error("pipeline run failed", attrs...)
	case models.RunStatusPartial:
		logger.Warn("pipeline run completed with failures", attrs...)
	default:
		logger.Info("pipeline run completed", attrs...)
	}
}
