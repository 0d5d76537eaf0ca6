package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/accounts"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse(http.StatusBadRequest, "invalid request body", codeInvalidRequest))
		return false
	}
	return true
}

// writeAdminError sanitizes what reaches the client. Validation messages are
// our own wording and pass through; anything else is logged server-side and
// collapsed to a generic message so storage internals never leak.
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		writeJSON(w, status, errorResponse(status, "not found", code))
	case errors.Is(err, gateway.ErrDuplicate):
		writeJSON(w, status, errorResponse(status, "conflict", code))
	case errors.Is(err, gateway.ErrInvalidRequest):
		writeJSON(w, status, errorResponse(status, err.Error(), code))
	default:
		slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse(status, "internal error", code))
	}
}

// --- Provider catalog ---

func (s *server) handleListProviderDefinitions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Accounts.Definitions())
}

// --- Accounts ---

// handleProviderAccounts lists every account of a provider, disabled ones
// included; the admin surface needs to see what the router will not use.
func (s *server) handleProviderAccounts(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider_id")
	accts := make([]*gateway.ProviderAccount, 0)
	for _, a := range s.deps.Accounts.AllAccounts() {
		if a.ProviderID == providerID {
			accts = append(accts, a)
		}
	}
	writeJSON(w, http.StatusOK, accts)
}

// handleAvailableAccount returns the account the router would pick right now.
func (s *server) handleAvailableAccount(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider_id")
	acct, ok := s.deps.Accounts.Pick(providerID)
	if !ok {
		writeJSON(w, http.StatusNotFound,
			errorResponse(http.StatusNotFound, "no available account for provider "+providerID, codeNotFound))
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *server) handleAccountStatuses(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider_id")
	statuses := s.deps.Accounts.DetailedStatuses(providerID)
	if statuses == nil {
		statuses = []accounts.AccountStatus{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *server) handleProviderUsage(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider_id")
	writeJSON(w, http.StatusOK, s.deps.Accounts.UsageSummary(providerID))
}

type createAccountRequest struct {
	Name       string                  `json:"name"`
	ProviderID string                  `json:"provider_id"`
	Config     gateway.AccountConfig   `json:"config"`
	Priority   *int                    `json:"priority"`
	Models     []gateway.ProviderModel `json:"models"`
	Quotas     []accounts.QuotaUpdate  `json:"quotas"`
}

func (s *server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse(http.StatusBadRequest, "name is required", codeInvalidRequest))
		return
	}
	if req.ProviderID == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse(http.StatusBadRequest, "provider_id is required", codeInvalidRequest))
		return
	}

	acct := &gateway.ProviderAccount{
		Name:       req.Name,
		ProviderID: req.ProviderID,
		Config:     req.Config,
		Enabled:    true,
		Priority:   1,
		Models:     req.Models,
	}
	if req.Priority != nil {
		acct.Priority = *req.Priority
	}
	now := time.Now()
	for _, q := range req.Quotas {
		acct.SetQuota(q.Period, q.TokenLimit, q.RequestLimit, now)
	}

	created, err := s.deps.Accounts.AddAccount(r.Context(), acct)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.invalidateCatalog(r.Context())
	w.Header().Set("Location", "/v1/provider-accounts/accounts/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	var upd accounts.AccountUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}
	updated, err := s.deps.Accounts.UpdateAccount(r.Context(), accountID, upd)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.invalidateAccount(r.Context(), accountID)
	writeJSON(w, http.StatusOK, updated)
}

func (s *server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if err := s.deps.Accounts.DeleteAccount(r.Context(), accountID); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.invalidateAccount(r.Context(), accountID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetDefaultAccount(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider_id")
	accountID := chi.URLParam(r, "account_id")
	if err := s.deps.Accounts.SetDefault(r.Context(), providerID, accountID); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type recordUsageRequest struct {
	Tokens   int64 `json:"tokens"`
	Requests int64 `json:"requests"`
}

// handleRecordUsage debits an account's quota tiers out of band, for usage
// that happened outside the gateway (console experiments, batch jobs).
func (s *server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	var req recordUsageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Tokens < 0 || req.Requests < 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse(http.StatusBadRequest, "tokens and requests must be non-negative", codeInvalidRequest))
		return
	}
	if _, err := s.deps.Accounts.Account(accountID); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.deps.Accounts.RecordUsage(r.Context(), accountID, req.Tokens, req.Requests)
	w.WriteHeader(http.StatusOK)
}

// invalidateAccount drops cached state tied to one account after a mutation:
// the resolved adapter (credentials may have changed) and the model catalog.
func (s *server) invalidateAccount(ctx context.Context, accountID string) {
	if s.deps.Factory != nil {
		s.deps.Factory.Invalidate(accountID)
	}
	s.invalidateCatalog(ctx)
}
