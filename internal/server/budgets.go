package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	gateway "github.com/tverberg/switchyard/internal"
)

type setBudgetRequest struct {
	EntityID     string  `json:"entity_id"`
	MonthlyLimit float64 `json:"monthly_limit"`
	Enforce      *bool   `json:"enforce"` // nil = true
}

func (s *server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var req setBudgetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.EntityID == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse(http.StatusBadRequest, "entity_id is required", codeInvalidRequest))
		return
	}
	if req.MonthlyLimit <= 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse(http.StatusBadRequest, "monthly_limit must be positive", codeInvalidRequest))
		return
	}
	enforce := true
	if req.Enforce != nil {
		enforce = *req.Enforce
	}

	b := s.deps.Ledger.SetBudget(r.Context(), req.EntityID, req.MonthlyLimit, enforce)
	w.Header().Set("Location", "/v1/budgets/"+req.EntityID)
	writeJSON(w, http.StatusCreated, b)
}

// budgetView is a budget plus its currently crossed alert thresholds.
type budgetView struct {
	*gateway.Budget
	Alerts []string `json:"alerts,omitempty"`
}

func (s *server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entity_id")
	b, ok := s.deps.Ledger.Budget(entityID)
	if !ok {
		writeJSON(w, http.StatusNotFound,
			errorResponse(http.StatusNotFound, "no budget for entity "+entityID, codeNotFound))
		return
	}
	writeJSON(w, http.StatusOK, budgetView{
		Budget: b,
		Alerts: s.deps.Ledger.CheckAlerts(entityID),
	})
}
