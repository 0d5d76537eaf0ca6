// Package cost tracks per-request spend and enforces monthly budgets.
// The ledger is the in-process source of truth; entries stream to storage
// through a non-blocking sink and budget mutations are written through.
package cost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/telemetry"
)

// DefaultEstimatedCost is charged against the budget check before dispatch,
// when the real cost of the request is not yet known.
const DefaultEstimatedCost = 0.01

// Repository persists budget mutations. Writes are write-through: failures
// are logged and never fail the operation.
type Repository interface {
	UpsertBudget(ctx context.Context, b *gateway.Budget) error
}

// Sink receives recorded entries for persistence. Record must not block.
type Sink interface {
	Record(e gateway.CostEntry)
}

// Ledger owns the cost entries and budgets. All state is guarded by one
// lock; budgets handed out are deep copies.
type Ledger struct {
	logger *slog.Logger
	repo   Repository // nil disables budget persistence
	sink   Sink       // nil disables entry persistence
	tracer trace.Tracer

	mu      sync.Mutex
	entries []gateway.CostEntry // chronological
	budgets map[string]*gateway.Budget
}

// New creates a Ledger. repo and sink may be nil.
func New(repo Repository, sink Sink, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		logger:  logger,
		repo:    repo,
		sink:    sink,
		tracer:  telemetry.Tracer("switchyard/cost"),
		budgets: make(map[string]*gateway.Budget),
	}
}

// Load replaces ledger state with budgets and entries restored from
// storage. Entries must be in chronological order.
func (l *Ledger) Load(budgets []*gateway.Budget, entries []gateway.CostEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.budgets = make(map[string]*gateway.Budget, len(budgets))
	for _, b := range budgets {
		l.budgets[b.EntityID] = b.Clone()
	}
	l.entries = append([]gateway.CostEntry(nil), entries...)
}

// --- Admission ---

// CanRequest reports whether userID may spend estimatedCost more this
// month. Without a budget, or with enforcement off, everything passes.
func (l *Ledger) CanRequest(userID string, estimatedCost float64) error {
	now := time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[userID]
	if !ok || !b.Enforce {
		return nil
	}
	l.rollWindowLocked(b, now)
	if b.SpentThisMonth+estimatedCost > b.MonthlyLimit {
		return fmt.Errorf("%w: %s", gateway.ErrBudgetExceeded, userID)
	}
	return nil
}

// --- Recording ---

// RecordCost appends a ledger entry and charges the user's budget. The
// entry is queued for persistence; a full queue or storage failure never
// fails the request.
func (l *Ledger) RecordCost(ctx context.Context, provider, model string, usage gateway.Usage, costUSD float64, userID, requestID string) gateway.CostEntry {
	ctx, span := l.tracer.Start(ctx, "ledger.record",
		trace.WithAttributes(
			attribute.String("provider", provider),
			attribute.Float64("cost_usd", costUSD),
		))
	defer span.End()

	return l.recordAt(ctx, time.Now().UTC(), provider, model, usage, costUSD, userID, requestID)
}

// recordAt is RecordCost with an injected clock.
func (l *Ledger) recordAt(ctx context.Context, now time.Time, provider, model string, usage gateway.Usage, costUSD float64, userID, requestID string) gateway.CostEntry {
	entry := gateway.CostEntry{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Timestamp:    now,
		Provider:     provider,
		Model:        model,
		InputTokens:  int64(usage.PromptTokens),
		OutputTokens: int64(usage.CompletionTokens),
		CostUSD:      costUSD,
		UserID:       userID,
		RequestID:    requestID,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	var charged *gateway.Budget
	if b, ok := l.budgets[userID]; ok {
		l.rollWindowLocked(b, now)
		b.SpentThisMonth += costUSD
		charged = b.Clone()
	}
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.Record(entry)
	}
	if charged != nil {
		l.persistBudget(ctx, charged)
	}
	return entry
}

// --- Queries ---

// Summary aggregates entries with start <= timestamp <= end.
func (l *Ledger) Summary(start, end time.Time) gateway.CostSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := gateway.CostSummary{
		ByProvider:  make(map[string]float64),
		ByModel:     make(map[string]float64),
		ByUser:      make(map[string]float64),
		PeriodStart: start,
		PeriodEnd:   end,
	}
	for i := range l.entries {
		e := &l.entries[i]
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		s.TotalCost += e.CostUSD
		s.RequestCount++
		s.TotalTokens += e.InputTokens + e.OutputTokens
		s.ByProvider[e.Provider] += e.CostUSD
		s.ByModel[e.Model] += e.CostUSD
		s.ByUser[e.UserID] += e.CostUSD
	}
	return s
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(limit int) []gateway.CostEntry {
	if limit <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]gateway.CostEntry, 0, min(limit, len(l.entries)))
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// ByUser returns up to limit of the user's entries, newest first.
func (l *Ledger) ByUser(userID string, limit int) []gateway.CostEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []gateway.CostEntry
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if l.entries[i].UserID == userID {
			out = append(out, l.entries[i])
		}
	}
	return out
}

// PruneBefore drops in-memory entries older than cutoff and reports how
// many were removed. Pruned history remains queryable through storage
// rollups.
func (l *Ledger) PruneBefore(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Entries are chronological; find the first one to keep.
	keep := len(l.entries)
	for i := range l.entries {
		if !l.entries[i].Timestamp.Before(cutoff) {
			keep = i
			break
		}
	}
	if keep == 0 {
		return 0
	}
	l.entries = append([]gateway.CostEntry(nil), l.entries[keep:]...)
	return keep
}

// --- Budgets ---

// SetBudget creates or replaces the entity's budget with a fresh window.
func (l *Ledger) SetBudget(ctx context.Context, entityID string, monthlyLimit float64, enforce bool) *gateway.Budget {
	now := time.Now().UTC()
	b := &gateway.Budget{
		EntityID:        entityID,
		MonthlyLimit:    monthlyLimit,
		Enforce:         enforce,
		AlertThresholds: append([]float64(nil), gateway.DefaultAlertThresholds...),
		ResetDay:        1,
		LastReset:       now,
	}

	l.mu.Lock()
	l.budgets[entityID] = b
	out := b.Clone()
	l.mu.Unlock()

	l.persistBudget(ctx, out)
	return out
}

// Budget returns a copy of the entity's budget.
func (l *Ledger) Budget(entityID string) (*gateway.Budget, bool) {
	now := time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.budgets[entityID]
	if !ok {
		return nil, false
	}
	l.rollWindowLocked(b, now)
	return b.Clone(), true
}

// Budgets returns a copy of every budget.
func (l *Ledger) Budgets() []*gateway.Budget {
	now := time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*gateway.Budget, 0, len(l.budgets))
	for _, b := range l.budgets {
		l.rollWindowLocked(b, now)
		out = append(out, b.Clone())
	}
	return out
}

// CheckAlerts returns one message per alert threshold the entity's spend
// has crossed. Stateless; callers suppress repeats.
func (l *Ledger) CheckAlerts(entityID string) []string {
	b, ok := l.Budget(entityID)
	if !ok || b.MonthlyLimit <= 0 {
		return nil
	}

	pct := b.SpentThisMonth / b.MonthlyLimit
	var alerts []string
	for _, threshold := range b.AlertThresholds {
		if pct >= threshold {
			alerts = append(alerts, fmt.Sprintf(
				"Budget alert: %s has used %.1f%% of $%.2f monthly limit",
				entityID, pct*100, b.MonthlyLimit,
			))
		}
	}
	return alerts
}

// --- Internals ---

// rollWindowLocked zeroes the spend if the budget's window has rolled
// over. Like quota tiers, resets are lazy: any read may apply one.
func (l *Ledger) rollWindowLocked(b *gateway.Budget, now time.Time) {
	if b.LastReset.Before(windowStart(now, b.ResetDay)) {
		b.SpentThisMonth = 0
		b.LastReset = now
	}
}

// windowStart returns 00:00 UTC on the most recent reset day at or before
// now. Reset days past the end of a month clamp to its last day.
func windowStart(now time.Time, resetDay int) time.Time {
	if resetDay < 1 {
		resetDay = 1
	}
	now = now.UTC()
	y, m := now.Year(), now.Month()
	start := monthBoundary(y, m, resetDay)
	if now.Before(start) {
		m--
		if m < time.January {
			m = time.December
			y--
		}
		start = monthBoundary(y, m, resetDay)
	}
	return start
}

func monthBoundary(year int, month time.Month, day int) time.Time {
	// Day 0 of the next month is this month's last day.
	if last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day(); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func (l *Ledger) persistBudget(ctx context.Context, b *gateway.Budget) {
	if l.repo == nil {
		return
	}
	if err := l.repo.UpsertBudget(ctx, b); err != nil {
		l.logger.LogAttrs(ctx, slog.LevelError, "budget persist failed",
			slog.String("entity_id", b.EntityID),
			slog.String("error", err.Error()),
		)
	}
}
