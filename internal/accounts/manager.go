package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	gateway "github.com/tverberg/switchyard/internal"
)

// Repository is the persistence interface consumed by the Manager. Writes
// are write-through: failures are logged and never fail the operation.
type Repository interface {
	UpsertAccount(ctx context.Context, a *gateway.ProviderAccount) error
	SetDefaultAccount(ctx context.Context, providerID, accountID string) error
	DeleteAccount(ctx context.Context, id string) error
}

// Manager owns the account registry. All account state is guarded by one
// lock; accounts handed out are deep copies.
type Manager struct {
	logger *slog.Logger
	repo   Repository // nil disables persistence

	mu       sync.RWMutex
	accounts map[string]*gateway.ProviderAccount
	defs     map[string]*ProviderDefinition
	// original maps a provider id to its shelved default account while the
	// provider is being served by a fallback account.
	original map[string]string
}

// New creates a Manager with the built-in provider catalog. repo may be nil.
func New(repo Repository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger,
		repo:     repo,
		accounts: make(map[string]*gateway.ProviderAccount),
		defs:     builtinDefinitions(),
		original: make(map[string]string),
	}
}

// Load replaces the registry with accounts restored from storage.
func (m *Manager) Load(accts []*gateway.ProviderAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[string]*gateway.ProviderAccount, len(accts))
	for _, a := range accts {
		m.accounts[a.ID] = a.Clone()
	}
}

// --- Provider catalog ---

// Definitions lists every known provider, ordered by id.
func (m *Manager) Definitions() []*ProviderDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ProviderDefinition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefinitionsByCategory lists the providers in one category, ordered by id.
func (m *Manager) DefinitionsByCategory(c Category) []*ProviderDefinition {
	all := m.Definitions()
	out := all[:0]
	for _, d := range all {
		if d.Category == c {
			out = append(out, d)
		}
	}
	return out
}

// Definition returns the catalog entry for a provider id.
func (m *Manager) Definition(id string) (*ProviderDefinition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.defs[id]
	return d, ok
}

// --- Account CRUD ---

// AddAccount registers an account after validating it against the provider
// catalog. The first account of a provider becomes its default; any other
// account comes in non-default regardless of what the caller set.
func (m *Manager) AddAccount(ctx context.Context, a *gateway.ProviderAccount) (*gateway.ProviderAccount, error) {
	m.mu.Lock()

	def, ok := m.defs[a.ProviderID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: unknown provider %q", gateway.ErrInvalidRequest, a.ProviderID)
	}
	if want := def.configType(); a.Config.Type != want {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: provider %q requires config type %q", gateway.ErrInvalidRequest, a.ProviderID, want)
	}
	if err := a.Config.Validate(); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	now := time.Now()
	acct := a.Clone()
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	} else if _, exists := m.accounts[acct.ID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: account %q", gateway.ErrDuplicate, acct.ID)
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now

	acct.IsDefault = true
	for _, existing := range m.accounts {
		if existing.ProviderID == acct.ProviderID {
			acct.IsDefault = false
			break
		}
	}

	m.accounts[acct.ID] = acct
	out := acct.Clone()
	m.mu.Unlock()

	m.persistUpsert(ctx, out)
	return out, nil
}

// Account returns a copy of one account.
func (m *Manager) Account(id string) (*gateway.ProviderAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %q", gateway.ErrNotFound, id)
	}
	return a.Clone(), nil
}

// Accounts returns copies of the enabled accounts of a provider.
func (m *Manager) Accounts(providerID string) []*gateway.ProviderAccount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*gateway.ProviderAccount
	for _, a := range m.accounts {
		if a.ProviderID == providerID && a.Enabled {
			out = append(out, a.Clone())
		}
	}
	sortAccounts(out)
	return out
}

// AllAccounts returns copies of every account, default-first per provider.
func (m *Manager) AllAccounts() []*gateway.ProviderAccount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*gateway.ProviderAccount, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a.Clone())
	}
	sortAccounts(out)
	return out
}

// ActiveProviderIDs lists the providers with at least one enabled account,
// ordered by id. This is the routable provider set.
func (m *Manager) ActiveProviderIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, a := range m.accounts {
		if a.Enabled {
			seen[a.ProviderID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AccountUpdate is a partial update; nil fields are left unchanged.
type AccountUpdate struct {
	Name         *string                 `json:"name,omitempty"`
	Enabled      *bool                   `json:"enabled,omitempty"`
	Priority     *int                    `json:"priority,omitempty"`
	Models       []gateway.ProviderModel `json:"models,omitempty"`
	Quotas       []QuotaUpdate           `json:"quotas,omitempty"`
	RemoveQuotas []gateway.QuotaPeriod   `json:"remove_quotas,omitempty"`
}

// QuotaUpdate adds or replaces one quota tier.
type QuotaUpdate struct {
	Period       gateway.QuotaPeriod `json:"period"`
	TokenLimit   int64               `json:"token_limit"`
	RequestLimit *int64              `json:"request_limit,omitempty"`
}

// UpdateAccount applies a partial update and returns the updated account.
func (m *Manager) UpdateAccount(ctx context.Context, id string, upd AccountUpdate) (*gateway.ProviderAccount, error) {
	m.mu.Lock()

	a, ok := m.accounts[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: account %q", gateway.ErrNotFound, id)
	}

	now := time.Now()
	if upd.Name != nil {
		a.Name = *upd.Name
	}
	if upd.Enabled != nil {
		a.Enabled = *upd.Enabled
	}
	if upd.Priority != nil {
		a.Priority = *upd.Priority
	}
	if upd.Models != nil {
		a.Models = upd.Models
	}
	for _, q := range upd.Quotas {
		a.SetQuota(q.Period, q.TokenLimit, q.RequestLimit, now)
	}
	for _, p := range upd.RemoveQuotas {
		a.RemoveQuota(p, now)
	}
	a.UpdatedAt = now

	out := a.Clone()
	m.mu.Unlock()

	m.persistUpsert(ctx, out)
	return out, nil
}

// DeleteAccount removes an account and any return-to-primary entry that
// names it.
func (m *Manager) DeleteAccount(ctx context.Context, id string) error {
	m.mu.Lock()
	a, ok := m.accounts[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: account %q", gateway.ErrNotFound, id)
	}
	delete(m.accounts, id)
	if m.original[a.ProviderID] == id {
		delete(m.original, a.ProviderID)
	}
	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.DeleteAccount(ctx, id); err != nil {
			m.logger.LogAttrs(ctx, slog.LevelError, "account delete persist failed",
				slog.String("account_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// SetDefault makes one account the provider's default and clears any
// return-to-primary entry: the admin's pick overrides rotation history.
func (m *Manager) SetDefault(ctx context.Context, providerID, accountID string) error {
	m.mu.Lock()
	target, ok := m.accounts[accountID]
	if !ok || target.ProviderID != providerID {
		m.mu.Unlock()
		return fmt.Errorf("%w: account %q under provider %q", gateway.ErrNotFound, accountID, providerID)
	}
	for _, a := range m.accounts {
		if a.ProviderID == providerID {
			a.IsDefault = a.ID == accountID
		}
	}
	delete(m.original, providerID)
	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.SetDefaultAccount(ctx, providerID, accountID); err != nil {
			m.logger.LogAttrs(ctx, slog.LevelError, "set default persist failed",
				slog.String("provider", providerID),
				slog.String("account_id", accountID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// --- Selection ---

// Pick returns the best available account for a provider: the default
// first, then enabled accounts by ascending priority and descending
// remaining quota. While the default is exhausted the chosen fallback is
// remembered, and the default is returned to as soon as a quota window
// renews it. Pick never debits quota.
func (m *Manager) Pick(providerID string) (*gateway.ProviderAccount, bool) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	type candidate struct {
		id        string
		isDefault bool
		priority  int
		remaining int64
		hasQuota  bool
	}
	var candidates []candidate
	for _, a := range m.accounts {
		if a.ProviderID != providerID || !a.Enabled {
			continue
		}
		remaining := int64(math.MaxInt64)
		if r, ok := a.MinRemainingTokens(); ok {
			remaining = r
		}
		candidates = append(candidates, candidate{
			id:        a.ID,
			isDefault: a.IsDefault,
			priority:  a.Priority,
			remaining: remaining,
			hasQuota:  a.HasQuotaAvailable(now),
		})
	}
	if len(candidates) == 0 {
		return nil, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.isDefault != cj.isDefault {
			return ci.isDefault
		}
		if ci.priority != cj.priority {
			return ci.priority < cj.priority
		}
		return ci.remaining > cj.remaining
	})

	// Return-to-primary: the shelved default wins as soon as it has quota
	// again.
	if originalID, ok := m.original[providerID]; ok {
		if a, ok := m.accounts[originalID]; ok && a.HasQuota(now) {
			delete(m.original, providerID)
			return a.Clone(), true
		}
	}

	for _, c := range candidates {
		if !c.hasQuota {
			continue
		}
		if !c.isDefault {
			if _, stored := m.original[providerID]; !stored {
				for _, d := range candidates {
					if d.isDefault {
						m.original[providerID] = d.id
						break
					}
				}
			}
		}
		return m.accounts[c.id].Clone(), true
	}
	return nil, false
}

// RecordUsage debits tokens and requests against every tier of an account.
// Unknown accounts are ignored.
func (m *Manager) RecordUsage(ctx context.Context, accountID string, tokens, requests int64) {
	m.mu.Lock()
	a, ok := m.accounts[accountID]
	var out *gateway.ProviderAccount
	if ok {
		a.RecordUsage(tokens, requests, time.Now())
		out = a.Clone()
	}
	m.mu.Unlock()

	if ok {
		m.persistUpsert(ctx, out)
	}
}

// --- Reporting ---

// ProviderUsageSummary counts a provider's accounts by quota state.
type ProviderUsageSummary struct {
	ProviderID        string `json:"provider_id"`
	TotalAccounts     int    `json:"total_accounts"`
	ActiveAccounts    int    `json:"active_accounts"`
	ExhaustedAccounts int    `json:"exhausted_accounts"`
}

// UsageSummary reports account counts for one provider.
func (m *Manager) UsageSummary(providerID string) ProviderUsageSummary {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := ProviderUsageSummary{ProviderID: providerID}
	for _, a := range m.accounts {
		if a.ProviderID != providerID {
			continue
		}
		s.TotalAccounts++
		switch {
		case a.Enabled && a.HasQuotaAvailable(now):
			s.ActiveAccounts++
		case a.Enabled:
			s.ExhaustedAccounts++
		}
	}
	return s
}

// AccountStatus is the detailed quota view of one account.
type AccountStatus struct {
	ID           string                    `json:"id"`
	Name         string                    `json:"name"`
	Enabled      bool                      `json:"enabled"`
	IsDefault    bool                      `json:"is_default"`
	Priority     int                       `json:"priority"`
	HasQuota     bool                      `json:"has_quota"`
	BlockingTier gateway.QuotaPeriod       `json:"blocking_tier,omitempty"`
	NextReset    *gateway.NextReset        `json:"next_reset,omitempty"`
	QuotaTiers   []gateway.QuotaTierStatus `json:"quota_tiers"`
}

// DetailedStatuses reports per-tier quota state for every account of a
// provider, default and priority order first. Derived on copies; the live
// registry is not mutated.
func (m *Manager) DetailedStatuses(providerID string) []AccountStatus {
	now := time.Now()
	m.mu.RLock()
	var accts []*gateway.ProviderAccount
	for _, a := range m.accounts {
		if a.ProviderID == providerID {
			accts = append(accts, a.Clone())
		}
	}
	m.mu.RUnlock()

	sortAccounts(accts)
	out := make([]AccountStatus, 0, len(accts))
	for _, a := range accts {
		st := AccountStatus{
			ID:         a.ID,
			Name:       a.Name,
			Enabled:    a.Enabled,
			IsDefault:  a.IsDefault,
			Priority:   a.Priority,
			QuotaTiers: a.QuotaStatuses(now),
		}
		if period, blocked := a.BlockingTier(now); blocked {
			st.BlockingTier = period
		}
		st.HasQuota = a.HasQuota(now)
		if nr, ok := a.NextResetAt(now); ok {
			st.NextReset = &nr
		}
		out = append(out, st)
	}
	return out
}

// --- Internal ---

func sortAccounts(accts []*gateway.ProviderAccount) {
	sort.Slice(accts, func(i, j int) bool {
		ai, aj := accts[i], accts[j]
		if ai.ProviderID != aj.ProviderID {
			return ai.ProviderID < aj.ProviderID
		}
		if ai.IsDefault != aj.IsDefault {
			return ai.IsDefault
		}
		if ai.Priority != aj.Priority {
			return ai.Priority < aj.Priority
		}
		return ai.Name < aj.Name
	})
}

func (m *Manager) persistUpsert(ctx context.Context, a *gateway.ProviderAccount) {
	if m.repo == nil {
		return
	}
	if err := m.repo.UpsertAccount(ctx, a); err != nil {
		m.logger.LogAttrs(ctx, slog.LevelError, "account persist failed",
			slog.String("account_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}
