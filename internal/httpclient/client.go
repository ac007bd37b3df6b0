// Package httpclient provides the rate-limited HTTP client that all outbound
// calls to external sources must route through: a per-source token bucket, a
// per-source in-flight cap, hard call deadlines, and retry with backoff.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config holds the quota parameters for one external source.
type Config struct {
	Source         string        // label used in logs
	RequestsPerSec float64       // token bucket refill rate
	Burst          int           // token bucket capacity
	MaxConcurrent  int           // in-flight call ceiling
	CallTimeout    time.Duration // hard deadline per attempt
	Retry          RetryPolicy
	UserAgent      string // optional; set on every request when non-empty
	RedactToken    string // optional credential to mask in logged URLs
}

// DefaultConfig returns conservative quota defaults for a source.
func DefaultConfig(source string) Config {
	return Config{
		Source:         source,
		RequestsPerSec: 3,
		Burst:          3,
		MaxConcurrent:  2,
		CallTimeout:    30 * time.Second,
		Retry:          DefaultRetryPolicy(),
	}
}

// Client is a rate-limited HTTP client bound to a single external source.
// The zero value is not usable; construct with New. Callers block on quota
// exhaustion until a slot frees, scoped to their own goroutine only.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	slots   chan struct{}
	config  Config
	logger  *slog.Logger
}

// New creates a Client for one source. Each source gets its own quota state;
// there is no shared global bucket.
func New(config Config, logger *slog.Logger) *Client {
	if config.RequestsPerSec <= 0 {
		config.RequestsPerSec = 1
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}

	return &Client{
		http:    &http.Client{Timeout: config.CallTimeout},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSec), config.Burst),
		slots:   make(chan struct{}, config.MaxConcurrent),
		config:  config,
		logger:  logger,
	}
}

// Source returns the label of the external source this client throttles.
func (c *Client) Source() string {
	return c.config.Source
}

// Concurrency returns the in-flight call ceiling. Worker pools consuming this
// source should not exceed it.
func (c *Client) Concurrency() int {
	return c.config.MaxConcurrent
}

// Do executes one request with quota enforcement and retry. The request is
// rebuilt per attempt from the factory so retries get a fresh body. The caller
// owns the returned response body.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response

	err := Retry(ctx, c.config.Retry, func() error {
		r, err := c.attempt(ctx, build)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// attempt performs a single quota-gated round trip.
func (c *Client) attempt(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	// Acquire an in-flight slot; blocks siblings on this source only.
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.slots }()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	req, err := build(attemptCtx)
	if err != nil {
		cancel()
		return nil, NewPermanentError(fmt.Errorf("build request: %w", err))
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, classifyNetError(err)
	}

	c.logger.Debug("external call",
		"source", c.config.Source,
		"url", c.loggableURL(req),
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if statusErr := ClassifyStatus(resp.StatusCode); statusErr != nil {
		delay := retryAfterHint(resp)
		resp.Body.Close()
		cancel()
		if delay > 0 && IsTransient(statusErr) {
			return nil, NewTransientErrorWithDelay(statusErr, delay)
		}
		return nil, statusErr
	}

	// The attempt context must outlive the body read; tie its cancel to Close.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// loggableURL renders a request URL for logs. URL.Redacted only covers
// userinfo; sources that carry an API key in a path segment or query value
// configure it as RedactToken so it never reaches the logs.
func (c *Client) loggableURL(req *http.Request) string {
	u := req.URL.Redacted()
	if c.config.RedactToken != "" {
		u = strings.ReplaceAll(u, c.config.RedactToken, "REDACTED")
	}
	return u
}

// GetJSON issues a GET and decodes the body into out, converting decode
// failures into permanent errors so malformed payloads are not retried.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	resp, err := c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewTransientError(fmt.Errorf("read body: %w", err))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return NewPermanentError(fmt.Errorf("decode response: %w", err))
	}

	return nil
}

// retryAfterHint parses a Retry-After header, returning zero when absent or
// unparseable.
func retryAfterHint(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
