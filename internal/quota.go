package gateway

import (
	"fmt"
	"sort"
	"time"
)

// --- Quota periods ---

// QuotaPeriod is the window over which a quota tier is measured.
type QuotaPeriod string

const (
	PeriodMinute QuotaPeriod = "minute"
	PeriodHour   QuotaPeriod = "hour"
	PeriodDay    QuotaPeriod = "day"
	PeriodMonth  QuotaPeriod = "month"
)

// Duration returns the window length. A month is a fixed 30 days.
func (p QuotaPeriod) Duration() time.Duration {
	switch p {
	case PeriodMinute:
		return time.Minute
	case PeriodHour:
		return time.Hour
	case PeriodDay:
		return 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// DisplayName returns a human-readable label for the period.
func (p QuotaPeriod) DisplayName() string {
	switch p {
	case PeriodMinute:
		return "per minute"
	case PeriodHour:
		return "per hour"
	case PeriodDay:
		return "per day"
	case PeriodMonth:
		return "per month"
	default:
		return string(p)
	}
}

// ParseQuotaPeriod resolves a quota period string.
func ParseQuotaPeriod(s string) (QuotaPeriod, error) {
	switch QuotaPeriod(s) {
	case PeriodMinute, PeriodHour, PeriodDay, PeriodMonth:
		return QuotaPeriod(s), nil
	default:
		return "", fmt.Errorf("unknown quota period: %q", s)
	}
}

// AllQuotaPeriods lists every period, shortest first.
func AllQuotaPeriods() []QuotaPeriod {
	return []QuotaPeriod{PeriodMinute, PeriodHour, PeriodDay, PeriodMonth}
}

// --- Quota tiers ---

// QuotaTier tracks usage against one limit window. All time-dependent
// methods take the current time explicitly; callers are expected to hold
// whatever lock guards the owning account.
type QuotaTier struct {
	Period       QuotaPeriod `json:"period"`
	TokenLimit   int64       `json:"token_limit"`
	RequestLimit *int64      `json:"request_limit,omitempty"`
	TokensUsed   int64       `json:"tokens_used"`
	RequestsUsed int64       `json:"requests_used"`
	PeriodStart  time.Time   `json:"period_start"`
}

// Expired reports whether the tier's window has elapsed. The window is
// half-open: the instant period_start+duration already belongs to the next
// window.
func (t *QuotaTier) Expired(now time.Time) bool {
	return !now.Before(t.PeriodStart.Add(t.Period.Duration()))
}

// ResetIfExpired zeroes the counters and restarts the window if it has
// elapsed. Reports whether a reset happened.
func (t *QuotaTier) ResetIfExpired(now time.Time) bool {
	if !t.Expired(now) {
		return false
	}
	t.TokensUsed = 0
	t.RequestsUsed = 0
	t.PeriodStart = now
	return true
}

// HasQuotaAvailable reports whether the tier has capacity left without
// mutating it. An expired window counts as available.
func (t *QuotaTier) HasQuotaAvailable(now time.Time) bool {
	if t.Expired(now) {
		return true
	}
	if t.TokensUsed >= t.TokenLimit {
		return false
	}
	if t.RequestLimit != nil && t.RequestsUsed >= *t.RequestLimit {
		return false
	}
	return true
}

// HasQuota resets the tier if its window elapsed, then reports capacity.
func (t *QuotaTier) HasQuota(now time.Time) bool {
	t.ResetIfExpired(now)
	return t.HasQuotaAvailable(now)
}

// RecordUsage adds to the tier's counters, resetting first if the window
// elapsed. Counters may exceed the limit; HasQuota turns false until the
// next reset.
func (t *QuotaTier) RecordUsage(tokens, requests int64, now time.Time) {
	t.ResetIfExpired(now)
	t.TokensUsed += tokens
	t.RequestsUsed += requests
}

// RemainingTokens returns the unused token budget, floored at zero.
func (t *QuotaTier) RemainingTokens() int64 {
	if t.TokensUsed >= t.TokenLimit {
		return 0
	}
	return t.TokenLimit - t.TokensUsed
}

// TimeUntilReset returns the time left in the current window, or zero if it
// already elapsed.
func (t *QuotaTier) TimeUntilReset(now time.Time) time.Duration {
	reset := t.PeriodStart.Add(t.Period.Duration())
	if !now.Before(reset) {
		return 0
	}
	return reset.Sub(now)
}

// UsagePercent returns token usage as a percentage of the limit.
func (t *QuotaTier) UsagePercent() float64 {
	if t.TokenLimit == 0 {
		return 0
	}
	return float64(t.TokensUsed) / float64(t.TokenLimit) * 100
}

// QuotaTierStatus is the reporting view of one tier.
type QuotaTierStatus struct {
	Period            QuotaPeriod `json:"period"`
	TokenLimit        int64       `json:"token_limit"`
	TokensUsed        int64       `json:"tokens_used"`
	RequestLimit      *int64      `json:"request_limit,omitempty"`
	RequestsUsed      int64       `json:"requests_used"`
	RemainingTokens   int64       `json:"remaining_tokens"`
	UsagePercentage   float64     `json:"usage_percentage"`
	SecondsUntilReset int64       `json:"seconds_until_reset"`
	HasQuota          bool        `json:"has_quota"`
}

// NextReset names the tier that will free up soonest.
type NextReset struct {
	Period  QuotaPeriod `json:"period"`
	Seconds int64       `json:"seconds"`
}

// --- Account config ---

// Account config types, stored in the "type" discriminator field.
const (
	AccountConfigAPIKey   = "api_key"
	AccountConfigAzure    = "azure"
	AccountConfigAWS      = "aws"
	AccountConfigVectorDB = "vector_db"
)

// AccountConfig is the credential block of a provider account. It is a
// tagged union: Type selects which field group applies.
type AccountConfig struct {
	Type string `json:"type"`

	// api_key (APIKey is shared with azure and vector_db)
	APIKey         string `json:"api_key,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	CustomEndpoint string `json:"custom_endpoint,omitempty"`

	// azure
	Endpoint       string `json:"endpoint,omitempty"`
	DeploymentName string `json:"deployment_name,omitempty"`
	APIVersion     string `json:"api_version,omitempty"`

	// aws
	Region          string `json:"region,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`

	// vector_db
	URL            string `json:"url,omitempty"`
	CollectionName string `json:"collection_name,omitempty"`
}

// Validate checks that the fields required by the config type are present.
func (c *AccountConfig) Validate() error {
	switch c.Type {
	case AccountConfigAPIKey:
		// Keyless accounts are allowed for self-hosted endpoints (Ollama,
		// vLLM); they must name the endpoint instead.
		if c.APIKey == "" && c.CustomEndpoint == "" {
			return fmt.Errorf("%w: api_key or custom_endpoint is required", ErrInvalidRequest)
		}
	case AccountConfigAzure:
		if c.Endpoint == "" || c.DeploymentName == "" || c.APIKey == "" {
			return fmt.Errorf("%w: azure config requires endpoint, deployment_name and api_key", ErrInvalidRequest)
		}
	case AccountConfigAWS:
		if c.Region == "" || c.AccessKeyID == "" || c.SecretAccessKey == "" {
			return fmt.Errorf("%w: aws config requires region, access_key_id and secret_access_key", ErrInvalidRequest)
		}
	case AccountConfigVectorDB:
		if c.URL == "" {
			return fmt.Errorf("%w: url is required", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown config type %q", ErrInvalidRequest, c.Type)
	}
	return nil
}

// --- Provider accounts ---

// ProviderAccount is one credential set under a provider, carrying its own
// quota tiers. Accounts have no internal locking; the account manager
// serializes access.
type ProviderAccount struct {
	ID         string                     `json:"id"`
	Name       string                     `json:"name"`
	ProviderID string                     `json:"provider_id"`
	Config     AccountConfig              `json:"config"`
	Enabled    bool                       `json:"enabled"`
	IsDefault  bool                       `json:"is_default"`
	Priority   int                        `json:"priority"`
	Quotas     map[QuotaPeriod]*QuotaTier `json:"quotas"`
	Models     []ProviderModel            `json:"models"`
	CreatedAt  time.Time                  `json:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
}

// Clone returns a deep copy, safe to hand out beyond the owning lock.
func (a *ProviderAccount) Clone() *ProviderAccount {
	c := *a
	if a.Quotas != nil {
		c.Quotas = make(map[QuotaPeriod]*QuotaTier, len(a.Quotas))
		for p, t := range a.Quotas {
			tc := *t
			if t.RequestLimit != nil {
				rl := *t.RequestLimit
				tc.RequestLimit = &rl
			}
			c.Quotas[p] = &tc
		}
	}
	if a.Models != nil {
		c.Models = make([]ProviderModel, len(a.Models))
		for i, m := range a.Models {
			if m.InputTokenCost != nil {
				v := *m.InputTokenCost
				m.InputTokenCost = &v
			}
			if m.OutputTokenCost != nil {
				v := *m.OutputTokenCost
				m.OutputTokenCost = &v
			}
			c.Models[i] = m
		}
	}
	return &c
}

// SetQuota adds or replaces the tier for a period, restarting its window.
func (a *ProviderAccount) SetQuota(period QuotaPeriod, tokenLimit int64, requestLimit *int64, now time.Time) {
	if a.Quotas == nil {
		a.Quotas = make(map[QuotaPeriod]*QuotaTier)
	}
	a.Quotas[period] = &QuotaTier{
		Period:       period,
		TokenLimit:   tokenLimit,
		RequestLimit: requestLimit,
		PeriodStart:  now,
	}
	a.UpdatedAt = now
}

// RemoveQuota drops the tier for a period.
func (a *ProviderAccount) RemoveQuota(period QuotaPeriod, now time.Time) {
	delete(a.Quotas, period)
	a.UpdatedAt = now
}

// HasQuotaAvailable reports whether every tier has capacity, without
// mutating any of them. An account with no tiers is unlimited.
func (a *ProviderAccount) HasQuotaAvailable(now time.Time) bool {
	for _, tier := range a.Quotas {
		if !tier.HasQuotaAvailable(now) {
			return false
		}
	}
	return true
}

// HasQuota resets any elapsed tier windows and reports whether every tier
// has capacity.
func (a *ProviderAccount) HasQuota(now time.Time) bool {
	ok := true
	for _, tier := range a.Quotas {
		if !tier.HasQuota(now) {
			ok = false
		}
	}
	return ok
}

// RecordUsage adds the given usage to every tier.
func (a *ProviderAccount) RecordUsage(tokens, requests int64, now time.Time) {
	for _, tier := range a.Quotas {
		tier.RecordUsage(tokens, requests, now)
	}
	a.UpdatedAt = now
}

// MinRemainingTokens returns the tightest remaining token budget across
// tiers. ok is false when the account has no tiers.
func (a *ProviderAccount) MinRemainingTokens() (m int64, ok bool) {
	for _, tier := range a.Quotas {
		if r := tier.RemainingTokens(); !ok || r < m {
			m, ok = r, true
		}
	}
	return m, ok
}

// NextResetAt returns the soonest-resetting tier among those that are
// exhausted or above 80% usage. ok is false when no tier qualifies.
func (a *ProviderAccount) NextResetAt(now time.Time) (nr NextReset, ok bool) {
	for _, tier := range a.Quotas {
		if tier.HasQuotaAvailable(now) && tier.UsagePercent() <= 80 {
			continue
		}
		secs := int64(tier.TimeUntilReset(now).Seconds())
		if !ok || secs < nr.Seconds {
			nr, ok = NextReset{Period: tier.Period, Seconds: secs}, true
		}
	}
	return nr, ok
}

// QuotaStatuses returns the reporting view of every tier, shortest period
// first.
func (a *ProviderAccount) QuotaStatuses(now time.Time) []QuotaTierStatus {
	statuses := make([]QuotaTierStatus, 0, len(a.Quotas))
	for _, tier := range a.Quotas {
		statuses = append(statuses, QuotaTierStatus{
			Period:            tier.Period,
			TokenLimit:        tier.TokenLimit,
			TokensUsed:        tier.TokensUsed,
			RequestLimit:      tier.RequestLimit,
			RequestsUsed:      tier.RequestsUsed,
			RemainingTokens:   tier.RemainingTokens(),
			UsagePercentage:   tier.UsagePercent(),
			SecondsUntilReset: int64(tier.TimeUntilReset(now).Seconds()),
			HasQuota:          tier.TokensUsed < tier.TokenLimit,
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Period.Duration() < statuses[j].Period.Duration()
	})
	return statuses
}

// BlockingTier returns the first tier with no capacity left, resetting
// elapsed windows along the way. ok is false when nothing blocks.
func (a *ProviderAccount) BlockingTier(now time.Time) (period QuotaPeriod, ok bool) {
	for _, p := range AllQuotaPeriods() {
		tier, exists := a.Quotas[p]
		if !exists {
			continue
		}
		if !tier.HasQuota(now) {
			return p, true
		}
	}
	return "", false
}
