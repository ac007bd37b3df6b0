package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Database  DatabaseConfig
	Naver     NaverConfig
	Ecos      EcosConfig
	OpenAI    OpenAIConfig
	Pipeline  PipelineConfig
	Server    ServerConfig
	Logging   LoggingConfig
	Catalog   string // path to the keyword/indicator catalog YAML
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	URL             string
	MaxConnections  int
	ConnMaxLifetime time.Duration
}

// NaverConfig holds news search API credentials.
type NaverConfig struct {
	ClientID     string
	ClientSecret string
}

// EcosConfig holds the macro-data API key.
type EcosConfig struct {
	APIKey string
}

// OpenAIConfig holds the AI analysis backend parameters.
type OpenAIConfig struct {
	APIKey        string
	Model         string
	Temperature   float32
	MaxTokens     int
	MaxInputRunes int // article text budget sent per analysis call
	Timeout       time.Duration
}

// PipelineConfig holds orchestration tunables.
type PipelineConfig struct {
	CollectionWindow time.Duration // how far back collected articles may date
	FailureThreshold float64       // stage failure ratio that fails the run
	RunInterval      time.Duration // scheduling interval when not running once
	MinArticleChars  int           // minimum viable extracted body length
	EnrichWorkers    int           // concurrent analysis calls per run
}

// ServerConfig holds the metrics/health HTTP listener parameters.
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

const (
	defaultPort             = "8080"
	defaultShutdownTimeout  = 5 * time.Second
	defaultLogFormat        = "json"
	defaultModel            = "gpt-4o-mini"
	defaultTemperature      = 0.2
	defaultMaxTokens        = 2000
	defaultMaxInputRunes    = 6000
	defaultOpenAITimeout    = 60 * time.Second
	defaultCollectionWindow = 24 * time.Hour
	defaultFailureThreshold = 0.5
	defaultRunInterval      = 30 * time.Minute
	defaultMinArticleChars  = 200
	defaultEnrichWorkers    = 3
	defaultCatalogPath      = "catalog.yaml"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided. Required credentials are validated here so the
// pipeline fails before its first external call, not during one.
func Load() (Config, error) {
	cfg := Config{
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxConnections:  25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Naver: NaverConfig{
			ClientID:     os.Getenv("NAVER_CLIENT_ID"),
			ClientSecret: os.Getenv("NAVER_CLIENT_SECRET"),
		},
		Ecos: EcosConfig{
			APIKey: os.Getenv("ECOS_API_KEY"),
		},
		OpenAI: OpenAIConfig{
			APIKey:        os.Getenv("OPENAI_API_KEY"),
			Model:         getEnv("OPENAI_MODEL", defaultModel),
			Temperature:   defaultTemperature,
			MaxTokens:     defaultMaxTokens,
			MaxInputRunes: defaultMaxInputRunes,
			Timeout:       defaultOpenAITimeout,
		},
		Pipeline: PipelineConfig{
			CollectionWindow: defaultCollectionWindow,
			FailureThreshold: defaultFailureThreshold,
			RunInterval:      defaultRunInterval,
			MinArticleChars:  defaultMinArticleChars,
			EnrichWorkers:    defaultEnrichWorkers,
		},
		Server: ServerConfig{
			Port:            getEnv("PORT", defaultPort),
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Catalog: getEnv("CATALOG_PATH", defaultCatalogPath),
	}

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Naver.ClientID == "" || cfg.Naver.ClientSecret == "" {
		return Config{}, fmt.Errorf("NAVER_CLIENT_ID and NAVER_CLIENT_SECRET are required")
	}
	if cfg.Ecos.APIKey == "" {
		return Config{}, fmt.Errorf("ECOS_API_KEY is required")
	}

	if v := os.Getenv("OPENAI_TEMPERATURE"); v != "" {
		temp, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OPENAI_TEMPERATURE: %w", err)
		}
		cfg.OpenAI.Temperature = float32(temp)
	}

	if v := os.Getenv("OPENAI_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid OPENAI_MAX_TOKENS: must be a positive integer")
		}
		cfg.OpenAI.MaxTokens = n
	}

	if v := os.Getenv("OPENAI_MAX_INPUT_RUNES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid OPENAI_MAX_INPUT_RUNES: must be a positive integer")
		}
		cfg.OpenAI.MaxInputRunes = n
	}

	if v := os.Getenv("COLLECTION_WINDOW_HOURS"); v != "" {
		d, err := parseHours(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid COLLECTION_WINDOW_HOURS: %w", err)
		}
		cfg.Pipeline.CollectionWindow = d
	}

	if v := os.Getenv("FAILURE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1 {
			return Config{}, fmt.Errorf("invalid FAILURE_THRESHOLD: must be in (0, 1]")
		}
		cfg.Pipeline.FailureThreshold = f
	}

	if v := os.Getenv("RUN_INTERVAL_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			return Config{}, fmt.Errorf("invalid RUN_INTERVAL_MINUTES: must be a positive integer")
		}
		cfg.Pipeline.RunInterval = time.Duration(minutes) * time.Minute
	}

	if v := os.Getenv("MIN_ARTICLE_CHARS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid MIN_ARTICLE_CHARS: must be a non-negative integer")
		}
		cfg.Pipeline.MinArticleChars = n
	}

	if v := os.Getenv("ENRICH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid ENRICH_WORKERS: must be a positive integer")
		}
		cfg.Pipeline.EnrichWorkers = n
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	return cfg, nil
}

func parseHours(raw string) (time.Duration, error) {
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return time.Duration(hours) * time.Hour, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
