// Package budget enforces daily and monthly spend caps on paid search and
// AI-assisted calls. The governor only advises: callers must refuse to start
// new paid work when throttled; bypassing is a caller bug.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/eatplanted/venuescout/internal/config"
	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/resilience"
	"github.com/eatplanted/venuescout/internal/store"
)

// Status is a point-in-time view of the spend ledger and throttle decision.
type Status struct {
	Throttle        bool    `json:"throttle"`
	Reason          string  `json:"reason,omitempty"`
	DayCost         float64 `json:"day_cost"`
	MonthCost       float64 `json:"month_cost"`
	DailyLimit      float64 `json:"daily_limit"`
	MonthlyLimit    float64 `json:"monthly_limit"`
	PercentageUsed  float64 `json:"percentage_used"`
	RemainingBudget float64 `json:"remaining_budget"`
}

// Governor tracks spend and decides whether new paid work may start.
type Governor struct {
	store store.Store
	cfg   config.BudgetConfig
	now   func() time.Time
}

// NewGovernor creates a Governor with the given limits.
func NewGovernor(st store.Store, cfg config.BudgetConfig) *Governor {
	if cfg.ThrottleThreshold <= 0 {
		cfg.ThrottleThreshold = 0.8
	}
	return &Governor{store: st, cfg: cfg, now: time.Now}
}

// ShouldThrottle computes today's cost against the limits. Throttle is true
// when today's cost reached dailyLimit*threshold or the month's total reached
// the monthly limit. Every throttle decision is appended to the audit log.
// RemainingBudget may be negative when already over budget.
func (g *Governor) ShouldThrottle(ctx context.Context) (*Status, error) {
	now := g.now()
	day, err := g.store.GetBudgetPeriod(ctx, model.DayKey(now))
	if err != nil {
		return nil, eris.Wrap(err, "budget: get day ledger")
	}
	month, err := g.store.GetBudgetPeriod(ctx, model.MonthKey(now))
	if err != nil {
		return nil, eris.Wrap(err, "budget: get month ledger")
	}

	st := &Status{
		DayCost:         day.CostUSD,
		MonthCost:       month.CostUSD,
		DailyLimit:      g.cfg.DailyLimitUSD,
		MonthlyLimit:    g.cfg.MonthlyLimitUSD,
		RemainingBudget: g.cfg.DailyLimitUSD - day.CostUSD,
	}
	if g.cfg.DailyLimitUSD > 0 {
		st.PercentageUsed = day.CostUSD / g.cfg.DailyLimitUSD * 100
	}

	switch {
	case g.cfg.DailyLimitUSD > 0 && day.CostUSD >= g.cfg.DailyLimitUSD*g.cfg.ThrottleThreshold:
		st.Throttle = true
		st.Reason = fmt.Sprintf("daily budget at %.0f%% (%.2f of %.2f USD)",
			st.PercentageUsed, day.CostUSD, g.cfg.DailyLimitUSD)
	case g.cfg.MonthlyLimitUSD > 0 && month.CostUSD >= g.cfg.MonthlyLimitUSD:
		st.Throttle = true
		st.Reason = fmt.Sprintf("monthly budget exhausted (%.2f of %.2f USD)",
			month.CostUSD, g.cfg.MonthlyLimitUSD)
	}

	if st.Throttle {
		ev := &model.BudgetEvent{
			Kind:      "throttle",
			Reason:    st.Reason,
			DayCost:   day.CostUSD,
			MonthCost: month.CostUSD,
		}
		if err := g.store.AppendBudgetEvent(ctx, ev); err != nil {
			// Audit failure must not unthrottle; log and carry on.
			zap.L().Error("budget: append throttle event failed", zap.Error(err))
		}
		zap.L().Warn("budget throttled", zap.String("reason", st.Reason))
	}

	return st, nil
}

// EstimateScraperCost computes the expected cost of a run. Pure function, no
// side effects. Search is free on the free tier; AI calls are split across a
// light and a heavy tier by the configured share.
func (g *Governor) EstimateScraperCost(searchQueries, aiCalls int, useFreeTier bool) float64 {
	var searchCost float64
	if !useFreeTier {
		searchCost = float64(searchQueries) * g.cfg.PerQueryUSD
	}

	heavy := float64(aiCalls) * g.cfg.AIHeavyShare
	light := float64(aiCalls) - heavy
	aiCost := light*g.cfg.AILightCallUSD + heavy*g.cfg.AIHeavyCallUSD

	return searchCost + aiCost
}

// CanAffordScraperRun combines the throttle check with an estimate-versus-
// remaining comparison. The returned error is a ThrottledError or
// BudgetExceededError carrying a structured reason; callers map both to 429.
func (g *Governor) CanAffordScraperRun(ctx context.Context, searchQueries, aiCalls int, useFreeTier bool) error {
	st, err := g.ShouldThrottle(ctx)
	if err != nil {
		return err
	}
	if st.Throttle {
		return &resilience.ThrottledError{
			Reason:    st.Reason,
			DayCost:   st.DayCost,
			Remaining: st.RemainingBudget,
		}
	}

	estimated := g.EstimateScraperCost(searchQueries, aiCalls, useFreeTier)
	if estimated > st.RemainingBudget {
		return &resilience.BudgetExceededError{
			Reason: fmt.Sprintf("estimated cost %.2f USD exceeds remaining daily budget %.2f USD",
				estimated, st.RemainingBudget),
			EstimatedCost: estimated,
			Remaining:     st.RemainingBudget,
		}
	}
	return nil
}

// Costs describes the spend of one unit of completed work.
type Costs struct {
	FreeQueries  int
	PaidQueries  int
	AICallsLight int
	AICallsHeavy int
}

// RecordScraperCosts increments today's and this month's counters and cost in
// one transactional write; concurrent runs must not lose updates.
func (g *Governor) RecordScraperCosts(ctx context.Context, c Costs) error {
	cost := float64(c.PaidQueries)*g.cfg.PerQueryUSD +
		float64(c.AICallsLight)*g.cfg.AILightCallUSD +
		float64(c.AICallsHeavy)*g.cfg.AIHeavyCallUSD

	now := g.now()
	delta := model.BudgetDelta{
		FreeQueries:  c.FreeQueries,
		PaidQueries:  c.PaidQueries,
		AICallsLight: c.AICallsLight,
		AICallsHeavy: c.AICallsHeavy,
		CostUSD:      cost,
	}
	err := g.store.IncrementBudget(ctx, model.DayKey(now), model.MonthKey(now), delta)
	if err != nil {
		return eris.Wrap(err, "budget: record costs")
	}
	return nil
}
