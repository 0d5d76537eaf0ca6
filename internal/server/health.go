package server

import (
	"net/http"
	"time"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/router"
)

// handleHealth probes every routable provider and reports per-component
// health. Degraded (some providers down) still answers 200: the gateway
// itself is serving, and a fallback walk may well succeed.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]gateway.ComponentHealth)
	healthy := true
	for id, ok := range s.deps.Router.HealthCheckAll(r.Context()) {
		components[id] = gateway.ComponentHealth{Name: id, Healthy: ok}
		if !ok {
			healthy = false
		}
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, gateway.HealthStatus{
		Status:        status,
		UptimeSeconds: int64(time.Since(s.deps.Started).Seconds()),
		Version:       s.deps.Version,
		Components:    components,
	})
}

type statusResponse struct {
	Status         string                  `json:"status"`
	Version        string                  `json:"version"`
	UptimeSeconds  int64                   `json:"uptime_seconds"`
	ProvidersCount int                     `json:"providers_count"`
	Providers      []router.ProviderStatus `json:"providers"`
}

// handleStatus reports the router's live health view without probing
// upstreams; scores come from observed traffic and the last health sweep.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	providers := s.deps.Router.Statuses()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:         "running",
		Version:        s.deps.Version,
		UptimeSeconds:  int64(time.Since(s.deps.Started).Seconds()),
		ProvidersCount: len(providers),
		Providers:      providers,
	})
}
