package budget

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eatplanted/venuescout/internal/config"
	"github.com/eatplanted/venuescout/internal/resilience"
	"github.com/eatplanted/venuescout/internal/store"
)

func newTestGovernor(t *testing.T, cfg config.BudgetConfig) (*Governor, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return NewGovernor(st, cfg), st
}

func testBudgetConfig() config.BudgetConfig {
	return config.BudgetConfig{
		DailyLimitUSD:     10,
		MonthlyLimitUSD:   100,
		ThrottleThreshold: 0.8,
		PerQueryUSD:       0.01,
		AILightCallUSD:    0.004,
		AIHeavyCallUSD:    0.03,
		AIHeavyShare:      0.2,
	}
}

func TestShouldThrottle_FreshLedgerNotThrottled(t *testing.T) {
	g, _ := newTestGovernor(t, testBudgetConfig())

	st, err := g.ShouldThrottle(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Throttle)
	assert.Equal(t, 0.0, st.DayCost)
	assert.Equal(t, 10.0, st.RemainingBudget)
}

func TestShouldThrottle_DailyThresholdTrips(t *testing.T) {
	g, st := newTestGovernor(t, testBudgetConfig())
	ctx := context.Background()

	// 800 paid queries at 0.01 = 8.00 USD, exactly 80% of the daily limit.
	require.NoError(t, g.RecordScraperCosts(ctx, Costs{PaidQueries: 800}))

	status, err := g.ShouldThrottle(ctx)
	require.NoError(t, err)
	assert.True(t, status.Throttle)
	assert.Contains(t, status.Reason, "daily budget")
	assert.InDelta(t, 80.0, status.PercentageUsed, 0.01)

	// Every throttle decision leaves an audit trail.
	events, err := st.ListBudgetEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "throttle", events[0].Kind)
}

func TestShouldThrottle_BelowThresholdAllowed(t *testing.T) {
	g, _ := newTestGovernor(t, testBudgetConfig())
	ctx := context.Background()

	require.NoError(t, g.RecordScraperCosts(ctx, Costs{PaidQueries: 700}))

	status, err := g.ShouldThrottle(ctx)
	require.NoError(t, err)
	assert.False(t, status.Throttle)
	assert.InDelta(t, 3.0, status.RemainingBudget, 0.001)
}

func TestShouldThrottle_NegativeRemainingBudget(t *testing.T) {
	g, _ := newTestGovernor(t, testBudgetConfig())
	ctx := context.Background()

	require.NoError(t, g.RecordScraperCosts(ctx, Costs{PaidQueries: 1200}))

	status, err := g.ShouldThrottle(ctx)
	require.NoError(t, err)
	assert.True(t, status.Throttle)
	assert.Less(t, status.RemainingBudget, 0.0)
}

func TestEstimateScraperCost_FreeTierSearchIsFree(t *testing.T) {
	g, _ := newTestGovernor(t, testBudgetConfig())

	assert.Equal(t, 0.0, g.EstimateScraperCost(100, 0, true))
	assert.InDelta(t, 1.0, g.EstimateScraperCost(100, 0, false), 0.0001)
}

func TestEstimateScraperCost_SplitsAITiers(t *testing.T) {
	g, _ := newTestGovernor(t, testBudgetConfig())

	// 10 calls: 2 heavy at 0.03, 8 light at 0.004.
	assert.InDelta(t, 0.092, g.EstimateScraperCost(0, 10, true), 0.0001)
}

func TestCanAffordScraperRun_EstimateExceedsRemaining(t *testing.T) {
	g, _ := newTestGovernor(t, testBudgetConfig())
	ctx := context.Background()

	require.NoError(t, g.RecordScraperCosts(ctx, Costs{PaidQueries: 700}))

	// Remaining is 3.00; 400 paid queries estimate to 4.00.
	err := g.CanAffordScraperRun(ctx, 400, 0, false)
	require.Error(t, err)
	assert.True(t, resilience.IsBudgetRefusal(err))

	var be *resilience.BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.InDelta(t, 4.0, be.EstimatedCost, 0.001)
}

func TestCanAffordScraperRun_ThrottledBeforeEstimate(t *testing.T) {
	g, _ := newTestGovernor(t, testBudgetConfig())
	ctx := context.Background()

	require.NoError(t, g.RecordScraperCosts(ctx, Costs{PaidQueries: 900}))

	err := g.CanAffordScraperRun(ctx, 1, 0, true)
	var th *resilience.ThrottledError
	require.ErrorAs(t, err, &th)
	assert.Contains(t, th.Reason, "daily budget")
}

func TestCanAffordScraperRun_AffordableRunAllowed(t *testing.T) {
	g, _ := newTestGovernor(t, testBudgetConfig())
	assert.NoError(t, g.CanAffordScraperRun(context.Background(), 50, 10, false))
}

func TestRecordScraperCosts_IncrementsDayAndMonth(t *testing.T) {
	g, _ := newTestGovernor(t, testBudgetConfig())
	ctx := context.Background()

	require.NoError(t, g.RecordScraperCosts(ctx, Costs{FreeQueries: 3, PaidQueries: 2, AICallsLight: 5}))
	require.NoError(t, g.RecordScraperCosts(ctx, Costs{PaidQueries: 1}))

	status, err := g.ShouldThrottle(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, status.DayCost, 0.0001)
	assert.InDelta(t, 0.05, status.MonthCost, 0.0001)
}
