package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/tverberg/switchyard/internal"
)

const (
	defaultSummaryDays = 30
	maxSummaryDays     = 365
	defaultEntryLimit  = 100
	maxEntryLimit      = 1000
)

// queryInt reads a positive integer query parameter, clamped to max.
func queryInt(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// handleCostSummary aggregates spend over the last ?days=N days. The current
// UTC day is summed from the live ledger; earlier days come from the daily
// rollups at day granularity when a cost store is configured. The per-user
// breakdown covers the live window only: rollups carry no user dimension.
func (s *server) handleCostSummary(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", defaultSummaryDays, maxSummaryDays)

	now := time.Now().UTC()
	todayStart := now.Truncate(24 * time.Hour)
	start := now.AddDate(0, 0, -days)

	sum := s.deps.Ledger.Summary(todayStart, now)
	sum.PeriodStart = start
	sum.PeriodEnd = now

	if s.deps.Costs != nil && days > 0 {
		rollups, err := s.deps.Costs.QueryCostRollups(r.Context(), start, todayStart.AddDate(0, 0, -1))
		if err != nil {
			// Serve the live window rather than failing the read.
			slog.LogAttrs(r.Context(), slog.LevelError, "cost rollup query failed",
				slog.String("error", err.Error()),
			)
		}
		for _, ru := range rollups {
			sum.TotalCost += ru.TotalCost
			sum.RequestCount += int(ru.RequestCount)
			sum.TotalTokens += ru.TotalTokens
			sum.ByProvider[ru.Provider] += ru.TotalCost
			sum.ByModel[ru.Model] += ru.TotalCost
		}
	}

	writeJSON(w, http.StatusOK, sum)
}

func (s *server) handleRecentCosts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultEntryLimit, maxEntryLimit)
	entries := s.deps.Ledger.Recent(limit)
	if entries == nil {
		entries = []gateway.CostEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) handleUserCosts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	limit := queryInt(r, "limit", defaultEntryLimit, maxEntryLimit)
	entries := s.deps.Ledger.ByUser(userID, limit)
	if entries == nil {
		entries = []gateway.CostEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
