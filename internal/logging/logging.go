// Package logging builds the structured logger shared by the pipeline:
// leveled slog output, JSON for aggregation or text for local runs.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/econpulse/econpulse/internal/config"
)

// New constructs the process logger writing to stdout and installs it as the
// slog default, so stray slog package-level calls share the same handler.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	logger, err := NewWithWriter(os.Stdout, cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// NewWithWriter constructs a logger against an arbitrary writer. Tests use it
// to capture output.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}
}
