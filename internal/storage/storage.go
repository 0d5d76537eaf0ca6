// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	gateway "github.com/tverberg/switchyard/internal"
)

// AccountStore manages provider account persistence.
type AccountStore interface {
	UpsertAccount(ctx context.Context, a *gateway.ProviderAccount) error
	ListAccounts(ctx context.Context) ([]*gateway.ProviderAccount, error)
	SetDefaultAccount(ctx context.Context, providerID, accountID string) error
	DeleteAccount(ctx context.Context, id string) error
}

// CostStore manages cost ledger persistence.
type CostStore interface {
	InsertCostEntries(ctx context.Context, entries []gateway.CostEntry) error
	QueryCostEntries(ctx context.Context, start, end time.Time) ([]gateway.CostEntry, error)
	UpsertCostRollups(ctx context.Context, rollups []gateway.CostRollup) error
	QueryCostRollups(ctx context.Context, start, end time.Time) ([]gateway.CostRollup, error)
}

// BudgetStore manages budget persistence.
type BudgetStore interface {
	UpsertBudget(ctx context.Context, b *gateway.Budget) error
	ListBudgets(ctx context.Context) ([]*gateway.Budget, error)
}

// Store combines all storage interfaces.
type Store interface {
	AccountStore
	CostStore
	BudgetStore
	Close() error
}
