package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	gateway "github.com/tverberg/switchyard/internal"
)

// APIError represents an error response from an upstream LLM provider.
// Unwrap maps the status code onto the gateway sentinel taxonomy so callers
// match with errors.Is instead of inspecting status codes.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error returns a formatted error string including provider, status, and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatus returns the HTTP status code for failover decisions.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Unwrap classifies the upstream status: 429 is rate limiting, 401/403 an
// auth failure, 408/504 a timeout, anything else a generic provider error.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return gateway.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return gateway.ErrAuthFailed
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return gateway.ErrTimeout
	default:
		return gateway.ErrProviderError
	}
}

// ParseAPIError reads up to 4KB from the response body and returns an APIError.
func ParseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
}

// TransportError classifies a round-trip failure onto the sentinel taxonomy:
// exceeded deadlines and net timeouts become ErrTimeout, caller cancellation
// passes through untouched, and any other network failure becomes
// ErrProviderError so the fallback walk treats it as recoverable.
func TransportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: do request: %w", provider, err)
	}
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return fmt.Errorf("%s: %w: %s", provider, gateway.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %s", provider, gateway.ErrProviderError, err)
}
