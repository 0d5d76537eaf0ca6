package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/cost"
)

// anonymousUser attributes unauthenticated spend so budget admission always
// has an entity to check.
const anonymousUser = "anonymous"

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req gateway.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse(http.StatusBadRequest, "invalid request body: "+err.Error(), codeInvalidRequest))
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse(http.StatusBadRequest, "messages is required", codeInvalidRequest))
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = anonymousUser
	}
	ctx := gateway.ContextWithUserID(r.Context(), userID)

	// Admission runs before any upstream call; the flat estimate is settled
	// against the real cost when the response is recorded.
	if err := s.deps.Ledger.CanRequest(userID, cost.DefaultEstimatedCost); err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.BudgetRejects.Inc()
		}
		writeError(w, err)
		return
	}

	if req.Stream {
		s.handleChatStream(w, r.WithContext(ctx), &req)
		return
	}

	var (
		resp *gateway.ChatResponse
		err  error
	)
	if req.Preference != nil {
		resp, err = s.deps.Router.Route(ctx, &req)
	} else {
		resp, err = s.deps.Router.RouteWithFallback(ctx, &req)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	s.recordCompletion(ctx, resp, userID)
	writeJSON(w, http.StatusOK, resp)
}

// recordCompletion settles a successful completion into the ledger and the
// token/cost counters. Streaming responses skip this: their usage is debited
// against the account quota by the router when the stream ends.
func (s *server) recordCompletion(ctx context.Context, resp *gateway.ChatResponse, userID string) {
	s.deps.Ledger.RecordCost(ctx, resp.Provider, resp.Model, resp.Usage, resp.Cost, userID, resp.ID)
	if m := s.deps.Metrics; m != nil {
		m.TokensProcessed.WithLabelValues(resp.Provider, resp.Model, "input").Add(float64(resp.Usage.PromptTokens))
		m.TokensProcessed.WithLabelValues(resp.Provider, resp.Model, "output").Add(float64(resp.Usage.CompletionTokens))
		m.CostTotal.WithLabelValues(resp.Provider, resp.Model).Add(resp.Cost)
	}
}

// Stable machine-readable error codes carried in every error body.
const (
	codeInvalidRequest  = "INVALID_REQUEST"
	codeAuthFailed      = "AUTH_FAILED"
	codeBudgetExceeded  = "BUDGET_EXCEEDED"
	codeNotFound        = "NOT_FOUND"
	codeConflict        = "CONFLICT"
	codeRateLimited     = "RATE_LIMITED"
	codeProviderTimeout = "PROVIDER_TIMEOUT"
	codeProviderError   = "PROVIDER_ERROR"
	codeNoProviders     = "NO_PROVIDERS"
	codeRoutingError    = "ROUTING_ERROR"
	codeInternal        = "INTERNAL"
)

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func errorResponse(status int, msg, code string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	if status >= 500 {
		e.Error.Type = "api_error"
	}
	e.Error.Code = code
	return e
}

// errorStatus maps sentinel errors to an HTTP status and stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, gateway.ErrInvalidRequest):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, gateway.ErrAuthFailed):
		return http.StatusUnauthorized, codeAuthFailed
	case errors.Is(err, gateway.ErrBudgetExceeded):
		return http.StatusPaymentRequired, codeBudgetExceeded
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, gateway.ErrDuplicate):
		return http.StatusConflict, codeConflict
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests, codeRateLimited
	case errors.Is(err, gateway.ErrTimeout):
		return http.StatusGatewayTimeout, codeProviderTimeout
	case errors.Is(err, gateway.ErrProviderNotFound),
		errors.Is(err, gateway.ErrNoProviderForModel),
		errors.Is(err, gateway.ErrInvalidProviderIndex):
		return http.StatusBadRequest, codeRoutingError
	case errors.Is(err, gateway.ErrAllProvidersFailed):
		return http.StatusServiceUnavailable, codeRoutingError
	case errors.Is(err, gateway.ErrNoProviders):
		return http.StatusServiceUnavailable, codeNoProviders
	case errors.Is(err, gateway.ErrNotImplemented),
		errors.Is(err, gateway.ErrProviderError):
		return http.StatusBadGateway, codeProviderError
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	writeJSON(w, status, errorResponse(status, err.Error(), code))
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
