package gateway

import "errors"

// Sentinel errors for the gateway domain.
var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrNotFound             = errors.New("not found")
	ErrDuplicate            = errors.New("already exists")
	ErrRateLimited          = errors.New("rate limited")
	ErrAuthFailed           = errors.New("authentication failed")
	ErrTimeout              = errors.New("provider timeout")
	ErrProviderError        = errors.New("provider error")
	ErrProviderNotFound     = errors.New("provider not found")
	ErrNoProviderForModel   = errors.New("no provider for model")
	ErrInvalidProviderIndex = errors.New("invalid provider index")
	ErrNoProviders          = errors.New("no providers available")
	ErrAllProvidersFailed   = errors.New("all providers failed")
	ErrBudgetExceeded       = errors.New("budget exceeded")
	ErrNotImplemented       = errors.New("not implemented")
)
