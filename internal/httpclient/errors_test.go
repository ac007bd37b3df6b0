package httpclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
		permanent bool
	}{
		{"ok", http.StatusOK, false, false},
		{"created", http.StatusCreated, false, false},
		{"rate_limited", http.StatusTooManyRequests, true, false},
		{"server_error", http.StatusInternalServerError, true, false},
		{"bad_gateway", http.StatusBadGateway, true, false},
		{"unauthorized", http.StatusUnauthorized, false, true},
		{"not_found", http.StatusNotFound, false, true},
		{"bad_request", http.StatusBadRequest, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyStatus(tt.status)
			if !tt.transient && !tt.permanent {
				if err != nil {
					t.Fatalf("status %d: expected nil, got %v", tt.status, err)
				}
				return
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("status %d: IsTransient = %v, want %v", tt.status, IsTransient(err), tt.transient)
			}
			if IsPermanent(err) != tt.permanent {
				t.Errorf("status %d: IsPermanent = %v, want %v", tt.status, IsPermanent(err), tt.permanent)
			}
		})
	}
}

func TestClassifyNetErrorPassesThroughCancellation(t *testing.T) {
	err := classifyNetError(context.Canceled)
	if IsTransient(err) {
		t.Error("context cancellation must not be retried")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestClassifyNetErrorDeadlineIsTransient(t *testing.T) {
	err := classifyNetError(context.DeadlineExceeded)
	if !IsTransient(err) {
		t.Errorf("deadline exceeded should be transient, got %v", err)
	}
}

func TestErrorWrappingRoundTrip(t *testing.T) {
	base := errors.New("base failure")

	if !errors.Is(NewTransientError(base), base) {
		t.Error("transient wrapper lost the underlying error")
	}
	if !errors.Is(NewPermanentError(base), base) {
		t.Error("permanent wrapper lost the underlying error")
	}
}
