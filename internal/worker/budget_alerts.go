package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tverberg/switchyard/internal/cost"
)

const alertSweepEvery = 60 * time.Second

// alertKey identifies a (budget, threshold) pair for suppression.
type alertKey struct {
	entity    string
	threshold float64
}

// BudgetAlertWorker periodically sweeps budgets and logs each crossed
// alert threshold once per month window.
type BudgetAlertWorker struct {
	ledger *cost.Ledger
	seen   map[alertKey]int64 // latest window start (unix) alerted, touched only from Run
}

// NewBudgetAlertWorker creates a BudgetAlertWorker.
func NewBudgetAlertWorker(ledger *cost.Ledger) *BudgetAlertWorker {
	return &BudgetAlertWorker{
		ledger: ledger,
		seen:   make(map[alertKey]int64),
	}
}

// Run performs an initial sweep, then sweeps periodically until ctx is
// cancelled.
func (w *BudgetAlertWorker) Run(ctx context.Context) error {
	w.sweep(ctx)

	ticker := time.NewTicker(alertSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// sweep walks threshold crossings itself rather than using the ledger's
// alert strings, which embed the live spend percentage and so cannot key
// a suppression map.
func (w *BudgetAlertWorker) sweep(ctx context.Context) {
	for _, b := range w.ledger.Budgets() {
		if b.MonthlyLimit <= 0 {
			continue
		}
		pct := b.SpentThisMonth / b.MonthlyLimit
		window := b.LastReset.Unix()

		for _, threshold := range b.AlertThresholds {
			if pct < threshold {
				continue
			}
			k := alertKey{entity: b.EntityID, threshold: threshold}
			if w.seen[k] == window {
				continue
			}
			w.seen[k] = window

			slog.LogAttrs(ctx, slog.LevelWarn, "budget threshold crossed",
				slog.String("entity", b.EntityID),
				slog.Float64("threshold", threshold),
				slog.Float64("spent_usd", b.SpentThisMonth),
				slog.Float64("limit_usd", b.MonthlyLimit),
			)
		}
	}
}
