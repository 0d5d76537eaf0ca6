package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	gateway "github.com/tverberg/switchyard/internal"
)

func TestAPIErrorUnwrap(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, gateway.ErrRateLimited},
		{http.StatusUnauthorized, gateway.ErrAuthFailed},
		{http.StatusForbidden, gateway.ErrAuthFailed},
		{http.StatusRequestTimeout, gateway.ErrTimeout},
		{http.StatusGatewayTimeout, gateway.ErrTimeout},
		{http.StatusInternalServerError, gateway.ErrProviderError},
		{http.StatusBadRequest, gateway.ErrProviderError},
	}
	for _, tt := range tests {
		err := &APIError{Provider: "test", StatusCode: tt.status, Body: "nope"}
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: errors.Is(%v) = false, want true", tt.status, tt.want)
		}
	}
}

func TestParseAPIErrorCapsBody(t *testing.T) {
	t.Parallel()
	resp := &http.Response{
		StatusCode: http.StatusBadGateway,
		Body:       io.NopCloser(strings.NewReader(strings.Repeat("x", 10_000))),
	}
	err := ParseAPIError("openai", resp)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want *APIError, got %T", err)
	}
	if len(apiErr.Body) != 4096 {
		t.Errorf("body length = %d, want 4096", len(apiErr.Body))
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransportError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", context.DeadlineExceeded, gateway.ErrTimeout},
		{"net timeout", timeoutErr{}, gateway.ErrTimeout},
		{"wrapped net timeout", fmt.Errorf("Post \"x\": %w", timeoutErr{}), gateway.ErrTimeout},
		{"connection refused", errors.New("connect: connection refused"), gateway.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TransportError("openai", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("TransportError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	canceled := TransportError("openai", context.Canceled)
	if !errors.Is(canceled, context.Canceled) {
		t.Errorf("cancellation should pass through, got %v", canceled)
	}
	if errors.Is(canceled, gateway.ErrTimeout) || errors.Is(canceled, gateway.ErrProviderError) {
		t.Errorf("cancellation must not be classified as an upstream failure: %v", canceled)
	}
}
