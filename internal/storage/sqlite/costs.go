package sqlite

import (
	"context"
	"strings"
	"time"

	gateway "github.com/tverberg/switchyard/internal"
)

// InsertCostEntries batch-inserts ledger entries. A single multi-row
// INSERT avoids N round-trips for large batches.
func (s *Store) InsertCostEntries(ctx context.Context, entries []gateway.CostEntry) error {
	if len(entries) == 0 {
		return nil
	}

	const cols = 9
	placeholders := make([]string, len(entries))
	args := make([]any, 0, len(entries)*cols)

	for i, e := range entries {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			e.ID, e.Timestamp.UTC().Format(time.RFC3339), e.Provider, e.Model,
			e.InputTokens, e.OutputTokens, e.CostUSD, e.UserID, e.RequestID,
		)
	}

	query := `INSERT INTO cost_entries
		(id, created_at, provider, model, input_tokens, output_tokens, cost_usd, user_id, request_id)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QueryCostEntries returns entries with start <= created_at <= end in
// chronological order. UUIDv7 ids break ties within a second.
func (s *Store) QueryCostEntries(ctx context.Context, start, end time.Time) ([]gateway.CostEntry, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, created_at, provider, model, input_tokens, output_tokens, cost_usd, user_id, request_id
		 FROM cost_entries WHERE created_at >= ? AND created_at <= ?
		 ORDER BY created_at, id`,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []gateway.CostEntry
	for rows.Next() {
		var e gateway.CostEntry
		var createdAt string
		err := rows.Scan(
			&e.ID, &createdAt, &e.Provider, &e.Model,
			&e.InputTokens, &e.OutputTokens, &e.CostUSD, &e.UserID, &e.RequestID,
		)
		if err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpsertCostRollups inserts or replaces daily aggregates. Re-running a
// rollup for a day overwrites it, so reprocessing is safe.
func (s *Store) UpsertCostRollups(ctx context.Context, rollups []gateway.CostRollup) error {
	if len(rollups) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cost_rollups (day, provider, model, request_count, total_tokens, total_cost)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(day, provider, model) DO UPDATE SET
		 request_count = excluded.request_count,
		 total_tokens = excluded.total_tokens,
		 total_cost = excluded.total_cost`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rollups {
		if _, err := stmt.ExecContext(ctx,
			r.Day, r.Provider, r.Model, r.RequestCount, r.TotalTokens, r.TotalCost,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// QueryCostRollups returns daily aggregates whose day falls inside
// [start, end], ordered oldest first.
func (s *Store) QueryCostRollups(ctx context.Context, start, end time.Time) ([]gateway.CostRollup, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT day, provider, model, request_count, total_tokens, total_cost
		 FROM cost_rollups WHERE day >= ? AND day <= ?
		 ORDER BY day, provider, model`,
		start.UTC().Format(time.DateOnly), end.UTC().Format(time.DateOnly),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rollups []gateway.CostRollup
	for rows.Next() {
		var r gateway.CostRollup
		if err := rows.Scan(&r.Day, &r.Provider, &r.Model, &r.RequestCount, &r.TotalTokens, &r.TotalCost); err != nil {
			return nil, err
		}
		rollups = append(rollups, r)
	}
	return rollups, rows.Err()
}
