package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// The aggregated catalog is cached as its marshalled body so cache hits skip
// both the aggregation walk and the re-encode. The short TTL bounds staleness
// between the cache and account mutations that bypass this process.
const (
	modelsCacheKey = "models:catalog"
	modelsCacheTTL = 30 * time.Second
)

type modelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

type modelListResponse struct {
	Data []modelInfo `json:"data"`
}

// handleListModels aggregates the default model catalog of every provider
// with at least one enabled account.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache != nil {
		if raw, ok := s.deps.Cache.Get(r.Context(), modelsCacheKey); ok {
			w.Header()["Content-Type"] = jsonCT
			w.WriteHeader(http.StatusOK)
			w.Write(raw)
			return
		}
	}

	resp := modelListResponse{Data: []modelInfo{}}
	for _, providerID := range s.deps.Accounts.ActiveProviderIDs() {
		def, ok := s.deps.Accounts.Definition(providerID)
		if !ok {
			continue
		}
		for _, m := range def.DefaultModels {
			resp.Data = append(resp.Data, modelInfo{ID: m.ID, Provider: providerID})
		}
	}

	if s.deps.Cache == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	s.deps.Cache.Set(r.Context(), modelsCacheKey, raw, modelsCacheTTL)
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// invalidateCatalog drops the cached model list after an account mutation
// changes the routable provider set.
func (s *server) invalidateCatalog(ctx context.Context) {
	if s.deps.Cache != nil {
		s.deps.Cache.Delete(ctx, modelsCacheKey)
	}
}
