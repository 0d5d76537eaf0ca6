package gateway

import "time"

// --- Cost tracking ---

// CostEntry is one append-only ledger record.
type CostEntry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	UserID       string    `json:"user_id"`
	RequestID    string    `json:"request_id"`
}

// CostSummary aggregates ledger entries over a period.
type CostSummary struct {
	TotalCost    float64            `json:"total_cost"`
	RequestCount int                `json:"request_count"`
	TotalTokens  int64              `json:"total_tokens"`
	ByProvider   map[string]float64 `json:"by_provider"`
	ByModel      map[string]float64 `json:"by_model"`
	ByUser       map[string]float64 `json:"by_user"`
	PeriodStart  time.Time          `json:"period_start"`
	PeriodEnd    time.Time          `json:"period_end"`
}

// CostRollup is a daily per-provider, per-model aggregate of the ledger.
type CostRollup struct {
	Day          string  `json:"day"` // YYYY-MM-DD, UTC
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	RequestCount int64   `json:"request_count"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// Budget is a per-entity monthly spending cap. With Enforce false the cap is
// advisory: requests pass and only alerts fire. LastReset marks the start of
// the window SpentThisMonth accumulates in.
type Budget struct {
	EntityID        string    `json:"entity_id"`
	MonthlyLimit    float64   `json:"monthly_limit"`
	SpentThisMonth  float64   `json:"spent_this_month"`
	Enforce         bool      `json:"enforce"`
	AlertThresholds []float64 `json:"alert_thresholds"`
	ResetDay        int       `json:"reset_day_of_month"`
	LastReset       time.Time `json:"last_reset"`
}

// Clone returns a deep copy.
func (b *Budget) Clone() *Budget {
	c := *b
	c.AlertThresholds = append([]float64(nil), b.AlertThresholds...)
	return &c
}

// DefaultAlertThresholds are applied to budgets created without explicit
// thresholds.
var DefaultAlertThresholds = []float64{0.5, 0.8, 0.9, 1.0}
