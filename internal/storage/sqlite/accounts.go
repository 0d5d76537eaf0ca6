package sqlite

import (
	"context"
	"database/sql"
	"time"

	gateway "github.com/tverberg/switchyard/internal"
)

// UpsertAccount inserts or fully replaces a provider account, including
// its config, quota tiers and model overrides.
func (s *Store) UpsertAccount(ctx context.Context, a *gateway.ProviderAccount) error {
	config, err := marshalJSON(a.Config)
	if err != nil {
		return err
	}
	quotas, err := marshalJSON(a.Quotas)
	if err != nil {
		return err
	}
	models, err := marshalJSON(a.Models)
	if err != nil {
		return err
	}

	_, err = s.write.ExecContext(ctx,
		`INSERT INTO provider_accounts
		 (id, name, provider_id, enabled, is_default, priority, config, quotas, models, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		 name = excluded.name,
		 provider_id = excluded.provider_id,
		 enabled = excluded.enabled,
		 is_default = excluded.is_default,
		 priority = excluded.priority,
		 config = excluded.config,
		 quotas = excluded.quotas,
		 models = excluded.models,
		 updated_at = excluded.updated_at`,
		a.ID, a.Name, a.ProviderID, boolToInt(a.Enabled), boolToInt(a.IsDefault), a.Priority,
		config, quotas, models,
		a.CreatedAt.UTC().Format(time.RFC3339), a.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListAccounts returns every stored account, ordered by provider then id.
func (s *Store) ListAccounts(ctx context.Context) ([]*gateway.ProviderAccount, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, name, provider_id, enabled, is_default, priority, config, quotas, models, created_at, updated_at
		 FROM provider_accounts ORDER BY provider_id, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*gateway.ProviderAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetDefaultAccount makes accountID the provider's only default.
func (s *Store) SetDefaultAccount(ctx context.Context, providerID, accountID string) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE provider_accounts SET is_default = 0 WHERE provider_id = ?`, providerID,
	); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE provider_accounts SET is_default = 1 WHERE id = ? AND provider_id = ?`,
		accountID, providerID,
	)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(result, "account"); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteAccount removes an account.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM provider_accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "account")
}

func scanAccount(sc scanner) (*gateway.ProviderAccount, error) {
	var a gateway.ProviderAccount
	var enabled, isDefault int
	var config, quotas, models sql.NullString
	var createdAt, updatedAt string

	err := sc.Scan(
		&a.ID, &a.Name, &a.ProviderID, &enabled, &isDefault, &a.Priority,
		&config, &quotas, &models, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	a.Enabled = enabled != 0
	a.IsDefault = isDefault != 0
	if err := unmarshalInto(config, &a.Config); err != nil {
		return nil, err
	}
	if err := unmarshalInto(quotas, &a.Quotas); err != nil {
		return nil, err
	}
	if err := unmarshalInto(models, &a.Models); err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}
