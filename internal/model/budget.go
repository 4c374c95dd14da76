package model

import "time"

// BudgetPeriod is a spend ledger row for one day or one month. Day keys are
// "2006-01-02", month keys "2006-01". CostUSD is monotonically non-decreasing
// within a period; a new key is the only reset.
type BudgetPeriod struct {
	Key          string    `json:"key"`
	FreeQueries  int       `json:"free_queries"`
	PaidQueries  int       `json:"paid_queries"`
	AICallsLight int       `json:"ai_calls_light"`
	AICallsHeavy int       `json:"ai_calls_heavy"`
	CostUSD      float64   `json:"cost_usd"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DayKey formats t as a daily ledger key.
func DayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// MonthKey formats t as a monthly ledger key.
func MonthKey(t time.Time) string { return t.UTC().Format("2006-01") }

// BudgetDelta is one atomic increment applied to both the day and month rows.
type BudgetDelta struct {
	FreeQueries  int
	PaidQueries  int
	AICallsLight int
	AICallsHeavy int
	CostUSD      float64
}

// BudgetEvent is an append-only audit record, written on every throttle
// refusal so overspend investigations have a trail.
type BudgetEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // "throttle"
	Reason    string    `json:"reason"`
	DayCost   float64   `json:"day_cost"`
	MonthCost float64   `json:"month_cost"`
	CreatedAt time.Time `json:"created_at"`
}
