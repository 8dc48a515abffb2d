package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"

	"github.com/haasonsaas/clawcore/internal/agent"
)

var _ agent.ClassifiedError = (*ProviderError)(nil)

func TestFailoverReasonIsRetryable(t *testing.T) {
	tests := []struct {
		reason   FailoverReason
		expected bool
	}{
		{FailoverRateLimit, true},
		{FailoverTimeout, true},
		{FailoverServerError, true},
		{FailoverConnection, true},
		{FailoverBilling, false},
		{FailoverAuth, false},
		{FailoverInvalidRequest, false},
		{FailoverModelUnavailable, false},
		{FailoverContentFilter, false},
		{FailoverUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := tt.reason.IsRetryable(); got != tt.expected {
				t.Errorf("FailoverReason(%q).IsRetryable() = %v, want %v", tt.reason, got, tt.expected)
			}
		})
	}
}

func TestProviderErrorRetryable(t *testing.T) {
	tests := []struct {
		reason   FailoverReason
		expected bool
	}{
		{FailoverRateLimit, true},
		{FailoverAuth, true},
		{FailoverBilling, true},
		{FailoverModelUnavailable, true},
		{FailoverUnknown, true},
		{FailoverInvalidRequest, false},
		{FailoverContentFilter, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			err := &ProviderError{Reason: tt.reason}
			if got := err.Retryable(); got != tt.expected {
				t.Errorf("Retryable() = %v, want %v", got, tt.expected)
			}
			if err.FailoverReason() != string(tt.reason) {
				t.Errorf("FailoverReason() = %q", err.FailoverReason())
			}
		})
	}
}

type fakeNetErr struct{ timeout bool }

func (e fakeNetErr) Error() string   { return "dial tcp" }
func (e fakeNetErr) Timeout() bool   { return e.timeout }
func (e fakeNetErr) Temporary() bool { return false }

var _ net.Error = fakeNetErr{}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected FailoverReason
	}{
		{"nil error", nil, FailoverUnknown},
		{"timeout", errors.New("request timeout"), FailoverTimeout},
		{"deadline exceeded", fmt.Errorf("call: %w", context.DeadlineExceeded), FailoverTimeout},
		{"net timeout", fakeNetErr{timeout: true}, FailoverTimeout},
		{"net error", fakeNetErr{}, FailoverConnection},
		{"connection refused", errors.New("dial tcp 127.0.0.1:1: connection refused"), FailoverConnection},
		{"rate limit", errors.New("rate limit exceeded"), FailoverRateLimit},
		{"too many requests", errors.New("too many requests"), FailoverRateLimit},
		{"429 status", errors.New("HTTP 429"), FailoverRateLimit},
		{"unauthorized", errors.New("unauthorized"), FailoverAuth},
		{"invalid api key", errors.New("invalid api key"), FailoverAuth},
		{"billing", errors.New("billing issue"), FailoverBilling},
		{"quota exceeded", errors.New("quota exceeded"), FailoverBilling},
		{"content filter", errors.New("content_filter triggered"), FailoverContentFilter},
		{"content blocked", errors.New("content blocked by safety"), FailoverContentFilter},
		{"service unavailable", errors.New("503 service unavailable"), FailoverServerError},
		{"model not found", errors.New("model not found"), FailoverModelUnavailable},
		{"server error", errors.New("internal server error"), FailoverServerError},
		{"overloaded", errors.New("Overloaded"), FailoverServerError},
		{"unknown", errors.New("something went wrong"), FailoverUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.expected {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewProviderError("primary", "claude-3-opus", cause).
		WithStatus(429).
		WithCode("rate_limit_error").
		WithRequestID("req-123")

	if want := "[rate_limit] primary model=claude-3-opus status=429 code=rate_limit_error underlying error"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err.RequestID != "req-123" {
		t.Errorf("Expected request ID req-123, got %s", err.RequestID)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if !err.Retryable() {
		t.Error("Rate limit should be retryable")
	}

	wrapped := fmt.Errorf("chain: %w", err)
	got, ok := GetProviderError(wrapped)
	if !ok || got != err {
		t.Error("GetProviderError should extract a wrapped ProviderError")
	}
	if _, ok := GetProviderError(errors.New("regular")); ok {
		t.Error("GetProviderError should return false for regular error")
	}
}

func TestWrapErrorPassesCancellationThrough(t *testing.T) {
	if err := wrapError("p", "m", context.Canceled, 0); err != context.Canceled {
		t.Fatalf("cancellation should not be wrapped, got %T", err)
	}
	err := wrapError("p", "m", errors.New("boom"), 502)
	pe, ok := GetProviderError(err)
	if !ok || pe.Reason != FailoverServerError || pe.Status != 502 {
		t.Fatalf("unexpected wrapped error %#v", err)
	}
}

func TestClassifyStatusCode(t *testing.T) {
	tests := []struct {
		status   int
		expected FailoverReason
	}{
		{401, FailoverAuth},
		{403, FailoverAuth},
		{402, FailoverBilling},
		{408, FailoverTimeout},
		{429, FailoverRateLimit},
		{400, FailoverInvalidRequest},
		{404, FailoverModelUnavailable},
		{500, FailoverServerError},
		{502, FailoverServerError},
		{503, FailoverServerError},
		{200, FailoverUnknown},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			if got := classifyStatusCode(tt.status); got != tt.expected {
				t.Errorf("classifyStatusCode(%d) = %v, want %v", tt.status, got, tt.expected)
			}
		})
	}
}
