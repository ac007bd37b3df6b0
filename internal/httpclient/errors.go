package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// TransientError wraps a failure that is worth retrying: timeouts, connection
// resets, 5xx responses, and 429 rate-limit responses.
type TransientError struct {
	Err        error
	RetryAfter time.Duration // server-provided hint, zero when absent
}

func (e *TransientError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %v)", e.Err, e.RetryAfter)
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError wraps a failure that retrying cannot fix: 4xx responses
// other than 429, malformed credentials, unparseable payloads.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// NewTransientErrorWithDelay marks err as retryable with a server-provided delay.
func NewTransientErrorWithDelay(err error, delay time.Duration) error {
	return &TransientError{Err: err, RetryAfter: delay}
}

// NewPermanentError marks err as non-retryable.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsTransient reports whether err should trigger a retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsPermanent reports whether err is known to be non-retryable.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// ClassifyStatus converts an HTTP status code into the pipeline's error kinds.
// 2xx returns nil.
func ClassifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return NewTransientError(fmt.Errorf("rate limited: status %d", status))
	case status >= 500:
		return NewTransientError(fmt.Errorf("server error: status %d", status))
	default:
		return NewPermanentError(fmt.Errorf("request rejected: status %d", status))
	}
}

// classifyNetError maps transport-level failures. Deadline and connection
// errors are transient under the retry policy; anything else is surfaced as-is
// and treated as transient by default since network failures are rarely final.
func classifyNetError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(fmt.Errorf("call deadline exceeded: %w", err))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTransientError(fmt.Errorf("network timeout: %w", err))
	}
	return NewTransientError(err)
}
