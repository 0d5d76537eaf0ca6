// Package server implements the HTTP transport layer for the switchyard gateway.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tverberg/switchyard/internal/accounts"
	"github.com/tverberg/switchyard/internal/cache"
	"github.com/tverberg/switchyard/internal/cost"
	"github.com/tverberg/switchyard/internal/provider/factory"
	"github.com/tverberg/switchyard/internal/router"
	"github.com/tverberg/switchyard/internal/storage"
	"github.com/tverberg/switchyard/internal/telemetry"
)

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Accounts *accounts.Manager
	Router   *router.Router
	Ledger   *cost.Ledger
	Factory  *factory.Factory    // nil = no adapter cache to invalidate (for tests)
	Costs    storage.CostStore   // nil = cost summaries cover the in-memory window only
	Cache    cache.Cache         // nil = no model-catalog caching
	Metrics  *telemetry.Metrics  // nil = no request metrics
	Gatherer prometheus.Gatherer // nil = no /metrics endpoint
	APIKey   string              // empty = API routes are open
	Version  string
	Started  time.Time // zero = now
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse(http.StatusNotFound, "not found", codeNotFound))
	})

	// Probe endpoints stay open; they are what load balancers and scrapers hit.
	r.Get("/health", s.handleHealth)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes (bearer auth when a gateway key is configured)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Get("/v1/models", s.handleListModels)
		r.Get("/v1/status", s.handleStatus)

		r.Get("/v1/costs", s.handleCostSummary)
		r.Get("/v1/costs/recent", s.handleRecentCosts)
		r.Get("/v1/costs/user/{user_id}", s.handleUserCosts)

		r.Post("/v1/budgets", s.handleSetBudget)
		r.Get("/v1/budgets/{entity_id}", s.handleGetBudget)

		r.Route("/v1/provider-accounts", func(r chi.Router) {
			r.Get("/providers", s.handleListProviderDefinitions)
			r.Get("/{provider_id}/accounts", s.handleProviderAccounts)
			r.Get("/{provider_id}/available", s.handleAvailableAccount)
			r.Get("/{provider_id}/statuses", s.handleAccountStatuses)
			r.Get("/{provider_id}/usage", s.handleProviderUsage)
			r.Put("/{provider_id}/{account_id}/default", s.handleSetDefaultAccount)
			r.Post("/accounts", s.handleCreateAccount)
			r.Put("/accounts/{account_id}", s.handleUpdateAccount)
			r.Delete("/accounts/{account_id}", s.handleDeleteAccount)
			r.Post("/accounts/{account_id}/usage", s.handleRecordUsage)
		})
	})

	return r
}

type server struct {
	deps Deps
}
