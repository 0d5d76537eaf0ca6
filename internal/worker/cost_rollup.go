package worker

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/cost"
)

const rollupEvery = time.Hour

// RollupStore is the persistence interface consumed by CostRollupWorker.
type RollupStore interface {
	QueryCostEntries(ctx context.Context, start, end time.Time) ([]gateway.CostEntry, error)
	UpsertCostRollups(ctx context.Context, rollups []gateway.CostRollup) error
}

// CostRollupWorker periodically aggregates persisted cost entries into daily
// rollups, then trims the in-memory ledger to the current day. The rollup
// upsert replaces whole days, so re-running is idempotent.
type CostRollupWorker struct {
	store  RollupStore
	ledger *cost.Ledger
}

// NewCostRollupWorker creates a new rollup worker.
func NewCostRollupWorker(store RollupStore, ledger *cost.Ledger) *CostRollupWorker {
	return &CostRollupWorker{store: store, ledger: ledger}
}

// Run performs an initial rollup, then rolls up on a periodic schedule
// until ctx is cancelled.
func (w *CostRollupWorker) Run(ctx context.Context) error {
	w.rollup(ctx)

	ticker := time.NewTicker(rollupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.rollup(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *CostRollupWorker) rollup(ctx context.Context) {
	// Aggregate the previous two UTC days to cover entries drained
	// after midnight.
	todayStart := time.Now().UTC().Truncate(24 * time.Hour)
	start := todayStart.AddDate(0, 0, -2)
	// Stored timestamps have second precision, so yesterday ends at :59.
	end := todayStart.Add(-time.Second)

	entries, err := w.store.QueryCostEntries(ctx, start, end)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "rollup query failed",
			slog.String("error", err.Error()),
		)
		return
	}

	if len(entries) > 0 {
		// Aggregate by (day, provider, model).
		type key struct {
			Day      string
			Provider string
			Model    string
		}
		agg := make(map[key]*gateway.CostRollup)
		for _, e := range entries {
			k := key{
				Day:      e.Timestamp.UTC().Format(time.DateOnly),
				Provider: e.Provider,
				Model:    e.Model,
			}
			if _, ok := agg[k]; !ok {
				agg[k] = &gateway.CostRollup{
					Day:      k.Day,
					Provider: k.Provider,
					Model:    k.Model,
				}
			}
			r := agg[k]
			r.RequestCount++
			r.TotalTokens += e.InputTokens + e.OutputTokens
			r.TotalCost += e.CostUSD
		}

		rollups := make([]gateway.CostRollup, 0, len(agg))
		for _, r := range agg {
			rollups = append(rollups, *r)
		}

		if err := w.store.UpsertCostRollups(ctx, rollups); err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "rollup upsert failed",
				slog.String("error", err.Error()),
			)
			return
		}

		pruned := w.ledger.PruneBefore(todayStart)
		slog.Info("cost rollup completed", "rollups", len(rollups), "entries", len(entries), "pruned", pruned)
		return
	}

	// Nothing to aggregate; still hold the ledger to the current day.
	w.ledger.PruneBefore(todayStart)
}
