// Package router selects an upstream provider for each chat request and
// orchestrates fallback across providers on failure. Selection follows the
// request preference (cost, latency, quality, round-robin or an explicit
// index); an explicit provider name bypasses selection entirely.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/accounts"
	"github.com/tverberg/switchyard/internal/provider"
	"github.com/tverberg/switchyard/internal/provider/factory"
	"github.com/tverberg/switchyard/internal/telemetry"
)

// Health scoring. Every dispatch outcome moves the provider's score toward
// 1 (success) or 0 (failure) by an exponential moving average.
const (
	initialHealth    = 0.5
	healthAlpha      = 0.1
	healthyThreshold = 0.5
)

// healthCheckTimeout bounds a single upstream probe in HealthCheckAll.
const healthCheckTimeout = 10 * time.Second

// qualityOrder ranks model families for the quality_tier preference, best
// first. Matched case-insensitively against the provider name, then against
// its catalog model names.
var qualityOrder = []string{"gpt-4", "claude-3-opus", "mistral-large", "gpt-3.5"}

// Target is one routable provider as the selection rules see it: the
// catalog identity plus the pricing used for cost-optimal ranking. Model
// names are lowercased for quality-tier matching.
type Target struct {
	ProviderID string
	Name       string
	Pricing    gateway.Pricing
	Models     []string
}

// ProviderStatus is the health view of one routable provider.
type ProviderStatus struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Healthy     bool    `json:"healthy"`
	HealthScore float64 `json:"health_score"`
}

// Router dispatches chat requests to provider adapters. Accounts are picked
// through the Manager on every attempt, so quota rotation and credential
// changes take effect without a rebuild.
type Router struct {
	manager *accounts.Manager
	factory *factory.Factory
	metrics *telemetry.Metrics // nil disables metric updates
	logger  *slog.Logger
	tracer  trace.Tracer

	mu     sync.Mutex
	rr     uint64
	health map[string]float64
}

// New creates a Router over the given account manager and adapter factory.
// metrics may be nil.
func New(manager *accounts.Manager, f *factory.Factory, metrics *telemetry.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		manager: manager,
		factory: f,
		metrics: metrics,
		logger:  logger,
		tracer:  telemetry.Tracer("switchyard/router"),
		health:  make(map[string]float64),
	}
}

// Targets returns the routable providers: chat-capable catalog entries with
// at least one enabled account, ordered by provider id. The order is the
// tie-break order for cost-optimal selection and the index space for the
// specific_provider preference.
func (r *Router) Targets() []Target {
	var targets []Target
	for _, id := range r.manager.ActiveProviderIDs() {
		def, ok := r.manager.Definition(id)
		if !ok || def.Category != accounts.CategoryLLMEmbedding {
			continue
		}
		if def.Modality != accounts.ModalityLLM && def.Modality != accounts.ModalityBoth {
			continue
		}
		t := Target{
			ProviderID: id,
			Name:       def.Name,
			Pricing:    provider.DefaultPricing(id),
			Models:     make([]string, len(def.DefaultModels)),
		}
		for i, m := range def.DefaultModels {
			t.Models[i] = strings.ToLower(m.Name)
		}
		targets = append(targets, t)
	}
	return targets
}

// Route dispatches a request to the single provider chosen by its
// preference (cost_optimal when absent). One attempt, no fallback.
func (r *Router) Route(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	if req.Provider != "" {
		return r.dispatchExplicit(ctx, req)
	}
	t, err := r.selectTarget(r.Targets(), preferenceOf(req))
	if err != nil {
		return nil, err
	}
	return r.dispatch(ctx, t.ProviderID, req)
}

// RouteWithFallback dispatches a request with provider fallback. An explicit
// provider in the request is dispatched exactly once and its failure
// surfaced; otherwise providers are tried in descending health order until
// one succeeds. Every attempt updates the provider's health score.
func (r *Router) RouteWithFallback(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	if req.Provider != "" {
		return r.dispatchExplicit(ctx, req)
	}

	targets := r.Targets()
	if len(targets) == 0 {
		return nil, gateway.ErrNoProviders
	}
	ordered := r.fallbackOrder(targets)

	var lastErr error
	for i, t := range ordered {
		resp, err := r.dispatch(ctx, t.ProviderID, req)
		if err == nil {
			if r.metrics != nil {
				r.metrics.FallbackDepth.Observe(float64(i + 1))
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			// The caller is gone; further attempts would bill for answers
			// nobody reads.
			return nil, lastErr
		}
		r.logger.LogAttrs(ctx, slog.LevelWarn, "provider failed, trying next",
			slog.String("provider", t.ProviderID),
			slog.String("error", err.Error()),
		)
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, gateway.ErrAllProvidersFailed
}

// ChatStream opens a streaming completion on the provider that would serve
// the request (explicit name or preference selection; streams do not fall
// back). The returned channel is closed after the final chunk. Health and
// quota are settled when the stream ends: usage is debited only if the
// upstream reported a usage block.
func (r *Router) ChatStream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	providerID, err := r.resolveProviderID(req)
	if err != nil {
		return nil, err
	}

	acct, ok := r.manager.Pick(providerID)
	if !ok {
		if r.metrics != nil {
			r.metrics.QuotaExhausted.WithLabelValues(providerID).Inc()
		}
		return nil, fmt.Errorf("%w: no usable account for provider %q", gateway.ErrNoProviders, providerID)
	}
	adapter, view, err := r.factory.Resolve(ctx, acct)
	if err != nil {
		return nil, err
	}
	streamer, ok := adapter.(gateway.Streamer)
	if !ok {
		return nil, fmt.Errorf("%w: provider %q does not support streaming", gateway.ErrNotImplemented, providerID)
	}

	upstream, err := streamer.ChatCompletionStream(ctx, view, req)
	if err != nil {
		r.observeOutcome(providerID, false)
		return nil, err
	}

	out := make(chan gateway.StreamChunk)
	go r.forwardStream(ctx, providerID, acct.ID, upstream, out)
	return out, nil
}

// forwardStream relays chunks to the consumer, watching for the terminal
// outcome to settle health and quota.
func (r *Router) forwardStream(ctx context.Context, providerID, accountID string, in <-chan gateway.StreamChunk, out chan<- gateway.StreamChunk) {
	defer close(out)

	var usage *gateway.Usage
	failed := false
	for chunk := range in {
		if chunk.Err != nil {
			failed = true
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			// Consumer gone; no outcome is recorded for an abandoned stream.
			return
		}
	}

	r.observeOutcome(providerID, !failed)
	if usage != nil {
		// The upstream work is done even if the caller has disconnected in
		// the meantime, so the debit must not inherit cancellation.
		r.manager.RecordUsage(context.WithoutCancel(ctx), accountID, int64(usage.TotalTokens), 1)
	}
}

// HealthCheckAll probes every routable provider concurrently and returns
// provider id -> healthy. Each probe outcome also feeds the health score.
func (r *Router) HealthCheckAll(ctx context.Context) map[string]bool {
	targets := r.Targets()
	results := make(map[string]bool, len(targets))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, t := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.checkProvider(ctx, t.ProviderID)
			healthy := err == nil
			mu.Lock()
			results[t.ProviderID] = healthy
			mu.Unlock()
			r.observeOutcome(t.ProviderID, healthy)
		}()
	}
	wg.Wait()
	return results
}

func (r *Router) checkProvider(ctx context.Context, providerID string) error {
	acct, ok := r.manager.Pick(providerID)
	if !ok {
		return fmt.Errorf("%w: no usable account for provider %q", gateway.ErrNoProviders, providerID)
	}
	adapter, view, err := r.factory.Resolve(ctx, acct)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return adapter.HealthCheck(ctx, view)
}

// Statuses reports the health view of every routable provider.
func (r *Router) Statuses() []ProviderStatus {
	targets := r.Targets()
	out := make([]ProviderStatus, len(targets))
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range targets {
		score := r.scoreLocked(t.ProviderID)
		out[i] = ProviderStatus{
			ID:          t.ProviderID,
			Name:        t.Name,
			Healthy:     score >= healthyThreshold,
			HealthScore: score,
		}
	}
	return out
}

// --- Dispatch ---

// dispatchExplicit serves a request that names its provider: one attempt
// against that provider's picked account, errors surfaced as-is.
func (r *Router) dispatchExplicit(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	id := strings.ToLower(req.Provider)
	if _, ok := r.manager.Definition(id); !ok {
		return nil, fmt.Errorf("%w: %q", gateway.ErrProviderNotFound, req.Provider)
	}
	return r.dispatch(ctx, id, req)
}

// dispatch runs one attempt against one provider: pick an account, resolve
// the adapter, call upstream, settle health and quota.
func (r *Router) dispatch(ctx context.Context, providerID string, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	_, pickSpan := r.tracer.Start(ctx, "account.pick",
		trace.WithAttributes(attribute.String("provider", providerID)))
	acct, ok := r.manager.Pick(providerID)
	pickSpan.End()
	if !ok {
		if r.metrics != nil {
			r.metrics.QuotaExhausted.WithLabelValues(providerID).Inc()
		}
		return nil, fmt.Errorf("%w: no usable account for provider %q", gateway.ErrNoProviders, providerID)
	}

	adapter, view, err := r.factory.Resolve(ctx, acct)
	if err != nil {
		return nil, err
	}

	callCtx, span := r.tracer.Start(ctx, "adapter.chat",
		trace.WithAttributes(
			attribute.String("provider", providerID),
			attribute.String("account_id", acct.ID),
			attribute.String("model", req.Model),
		))
	start := time.Now()
	resp, err := adapter.ChatCompletion(callCtx, view, req)
	if r.metrics != nil {
		r.metrics.UpstreamDuration.WithLabelValues(providerID, req.Model).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	r.observeOutcome(providerID, err == nil)
	if err != nil {
		if r.metrics != nil {
			r.metrics.UpstreamErrors.WithLabelValues(providerID, errLabel(err)).Inc()
		}
		return nil, err
	}

	// Debit after success only; see RecordUsage for the write-through.
	r.manager.RecordUsage(context.WithoutCancel(ctx), acct.ID, int64(resp.Usage.TotalTokens), 1)
	return resp, nil
}

// --- Selection ---

func preferenceOf(req *gateway.ChatRequest) gateway.Preference {
	if req.Preference != nil {
		return *req.Preference
	}
	return gateway.Preference{Kind: gateway.PreferCostOptimal}
}

// selectTarget applies one preference rule to the target list.
func (r *Router) selectTarget(targets []Target, pref gateway.Preference) (Target, error) {
	if len(targets) == 0 {
		return Target{}, gateway.ErrNoProviders
	}
	switch pref.Kind {
	case gateway.PreferLatencyOptimal:
		return r.selectHealthiest(targets), nil
	case gateway.PreferQualityTier:
		return selectQuality(targets), nil
	case gateway.PreferLoadBalanced:
		return r.selectRoundRobin(targets), nil
	case gateway.PreferSpecific:
		if pref.Index < 0 || pref.Index >= len(targets) {
			return Target{}, fmt.Errorf("%w: %d", gateway.ErrInvalidProviderIndex, pref.Index)
		}
		return targets[pref.Index], nil
	default:
		return selectCheapest(targets), nil
	}
}

// selectCheapest minimizes summed input+output token cost; ties keep the
// earlier target.
func selectCheapest(targets []Target) Target {
	best := targets[0]
	bestCost := best.Pricing.InputTokenCost + best.Pricing.OutputTokenCost
	for _, t := range targets[1:] {
		if c := t.Pricing.InputTokenCost + t.Pricing.OutputTokenCost; c < bestCost {
			best, bestCost = t, c
		}
	}
	return best
}

// selectQuality walks the quality ranking and returns the first provider
// whose name, then catalog models, contain the ranked substring. Falls back
// to the first target.
func selectQuality(targets []Target) Target {
	for _, q := range qualityOrder {
		for _, t := range targets {
			if strings.Contains(strings.ToLower(t.Name), q) {
				return t
			}
		}
		for _, t := range targets {
			for _, m := range t.Models {
				if strings.Contains(m, q) {
					return t
				}
			}
		}
	}
	return targets[0]
}

func (r *Router) selectHealthiest(targets []Target) Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	best := targets[0]
	bestScore := r.scoreLocked(best.ProviderID)
	for _, t := range targets[1:] {
		if s := r.scoreLocked(t.ProviderID); s > bestScore {
			best, bestScore = t, s
		}
	}
	return best
}

func (r *Router) selectRoundRobin(targets []Target) Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := targets[r.rr%uint64(len(targets))]
	r.rr++
	return t
}

// fallbackOrder stable-sorts targets by health score descending, so equally
// scored providers keep their catalog order.
func (r *Router) fallbackOrder(targets []Target) []Target {
	ordered := slices.Clone(targets)
	r.mu.Lock()
	defer r.mu.Unlock()
	slices.SortStableFunc(ordered, func(a, b Target) int {
		sa, sb := r.scoreLocked(a.ProviderID), r.scoreLocked(b.ProviderID)
		switch {
		case sb > sa:
			return 1
		case sb < sa:
			return -1
		default:
			return 0
		}
	})
	return ordered
}

// --- Health ---

// observeOutcome folds one dispatch outcome into the provider's EMA score.
func (r *Router) observeOutcome(providerID string, success bool) {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	r.mu.Lock()
	score := r.scoreLocked(providerID)*(1-healthAlpha) + healthAlpha*outcome
	r.health[providerID] = score
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.HealthScore.WithLabelValues(providerID).Set(score)
	}
}

func (r *Router) scoreLocked(providerID string) float64 {
	if s, ok := r.health[providerID]; ok {
		return s
	}
	return initialHealth
}

// errLabel maps an adapter error onto a bounded metric label.
func errLabel(err error) string {
	switch {
	case errors.Is(err, gateway.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, gateway.ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, gateway.ErrTimeout):
		return "timeout"
	case errors.Is(err, gateway.ErrNotImplemented):
		return "not_implemented"
	default:
		return "provider_error"
	}
}

// resolveProviderID names the provider that would serve the request:
// the explicit provider if given, otherwise the preference selection.
func (r *Router) resolveProviderID(req *gateway.ChatRequest) (string, error) {
	if req.Provider != "" {
		id := strings.ToLower(req.Provider)
		if _, ok := r.manager.Definition(id); !ok {
			return "", fmt.Errorf("%w: %q", gateway.ErrProviderNotFound, req.Provider)
		}
		return id, nil
	}
	t, err := r.selectTarget(r.Targets(), preferenceOf(req))
	if err != nil {
		return "", err
	}
	return t.ProviderID, nil
}
