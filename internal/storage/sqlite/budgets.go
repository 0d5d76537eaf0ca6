package sqlite

import (
	"context"
	"database/sql"
	"time"

	gateway "github.com/tverberg/switchyard/internal"
)

// UpsertBudget inserts or replaces an entity's budget.
func (s *Store) UpsertBudget(ctx context.Context, b *gateway.Budget) error {
	thresholds, err := marshalJSON(b.AlertThresholds)
	if err != nil {
		return err
	}

	_, err = s.write.ExecContext(ctx,
		`INSERT INTO budgets
		 (entity_id, monthly_limit, spent_this_month, enforce, alert_thresholds, reset_day, last_reset, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(entity_id) DO UPDATE SET
		 monthly_limit = excluded.monthly_limit,
		 spent_this_month = excluded.spent_this_month,
		 enforce = excluded.enforce,
		 alert_thresholds = excluded.alert_thresholds,
		 reset_day = excluded.reset_day,
		 last_reset = excluded.last_reset,
		 updated_at = excluded.updated_at`,
		b.EntityID, b.MonthlyLimit, b.SpentThisMonth, boolToInt(b.Enforce),
		thresholds, b.ResetDay,
		b.LastReset.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListBudgets returns every stored budget.
func (s *Store) ListBudgets(ctx context.Context) ([]*gateway.Budget, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT entity_id, monthly_limit, spent_this_month, enforce, alert_thresholds, reset_day, last_reset
		 FROM budgets ORDER BY entity_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var budgets []*gateway.Budget
	for rows.Next() {
		var b gateway.Budget
		var enforce int
		var thresholds sql.NullString
		var lastReset string

		err := rows.Scan(
			&b.EntityID, &b.MonthlyLimit, &b.SpentThisMonth, &enforce,
			&thresholds, &b.ResetDay, &lastReset,
		)
		if err != nil {
			return nil, err
		}
		b.Enforce = enforce != 0
		if err := unmarshalInto(thresholds, &b.AlertThresholds); err != nil {
			return nil, err
		}
		b.LastReset = parseTime(lastReset)
		budgets = append(budgets, &b)
	}
	return budgets, rows.Err()
}
