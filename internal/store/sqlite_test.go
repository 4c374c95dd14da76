package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eatplanted/venuescout/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// --- strategies ---

func TestCreateAndGetStrategy(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := &model.Strategy{
		Platform:      "wolt",
		Country:       "deu",
		QueryTemplate: `site:wolt.com "planted chicken" {city}`,
		Tags:          []string{"branded", "dish"},
		Origin:        model.OriginSeed,
	}
	require.NoError(t, st.CreateStrategy(ctx, s))
	require.NotEmpty(t, s.ID)

	got, err := st.GetStrategy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "wolt", got.Platform)
	assert.Equal(t, []string{"branded", "dish"}, got.Tags)
	assert.Equal(t, model.OriginSeed, got.Origin)
	assert.True(t, got.Active())
}

func TestGetStrategy_NotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetStrategy(context.Background(), "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestRecordStrategyUsage_RecomputesRateFromCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := &model.Strategy{Platform: "wolt", Country: "deu", QueryTemplate: "q", Origin: model.OriginSeed}
	require.NoError(t, st.CreateStrategy(ctx, s))

	outcomes := []bool{true, true, false, true, false}
	var got *model.Strategy
	var err error
	for _, success := range outcomes {
		got, err = st.RecordStrategyUsage(ctx, s.ID, success, false)
		require.NoError(t, err)
	}

	assert.Equal(t, 5, got.TotalUses)
	assert.Equal(t, 3, got.SuccessfulDiscoveries)
	assert.Equal(t, 60, got.SuccessRate)
}

func TestRecordStrategyUsage_CountsFalsePositives(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := &model.Strategy{Platform: "wolt", Country: "deu", QueryTemplate: "q", Origin: model.OriginSeed}
	require.NoError(t, st.CreateStrategy(ctx, s))

	got, err := st.RecordStrategyUsage(ctx, s.ID, true, true)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FalsePositives)
}

func TestRecordStrategyUsage_UnknownStrategy(t *testing.T) {
	st := newTestStore(t)
	_, err := st.RecordStrategyUsage(context.Background(), "missing", true, false)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSetStrategyRate_OverwritesCounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := &model.Strategy{Platform: "wolt", Country: "deu", QueryTemplate: "q", Origin: model.OriginSeed}
	require.NoError(t, st.CreateStrategy(ctx, s))
	_, err := st.RecordStrategyUsage(ctx, s.ID, true, false)
	require.NoError(t, err)

	require.NoError(t, st.SetStrategyRate(ctx, s.ID, 7, 10))

	got, err := st.GetStrategy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.TotalUses)
	assert.Equal(t, 7, got.SuccessfulDiscoveries)
	assert.Equal(t, 70, got.SuccessRate)
}

func TestDeprecateStrategy_ExcludedFromActiveList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := &model.Strategy{Platform: "wolt", Country: "deu", QueryTemplate: "q", Origin: model.OriginSeed}
	require.NoError(t, st.CreateStrategy(ctx, s))
	require.NoError(t, st.DeprecateStrategy(ctx, s.ID, "low yield"))

	active, err := st.ListStrategies(ctx, StrategyFilter{Platform: "wolt", Country: "deu"})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := st.ListStrategies(ctx, StrategyFilter{Platform: "wolt", Country: "deu", IncludeDeprecated: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].DeprecatedAt)
	assert.Equal(t, "low yield", all[0].DeprecatedReason)
}

func TestDeprecateStrategy_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	s := &model.Strategy{Platform: "wolt", Country: "deu", QueryTemplate: "q", Origin: model.OriginSeed}
	require.NoError(t, st.CreateStrategy(ctx, s))
	require.NoError(t, st.DeprecateStrategy(ctx, s.ID, "first"))
	require.NoError(t, st.DeprecateStrategy(ctx, s.ID, "second"))

	got, err := st.GetStrategy(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.DeprecatedReason)
}

func TestListStrategies_ScopeFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, scope := range []struct{ p, c string }{{"wolt", "deu"}, {"wolt", "che"}, {"ubereats", "deu"}} {
		require.NoError(t, st.CreateStrategy(ctx, &model.Strategy{
			Platform: scope.p, Country: scope.c, QueryTemplate: "q", Origin: model.OriginSeed,
		}))
	}

	got, err := st.ListStrategies(ctx, StrategyFilter{Platform: "wolt", Country: "deu"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = st.ListStrategies(ctx, StrategyFilter{Platform: "wolt"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// --- runs ---

func TestRunLifecycle_HappyPath(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.RunKindDiscovery, model.RunConfig{
		Countries: []string{"deu"}, Platforms: []string{"wolt"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPending, run.Status)

	require.NoError(t, st.StartRun(ctx, run.ID))
	require.NoError(t, st.MergeRunStats(ctx, run.ID, model.RunStats{model.StatQueriesExecuted: 4}))
	require.NoError(t, st.CompleteRun(ctx, run.ID, model.RunStats{model.StatVenuesStaged: 2}))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, int64(4), got.Stats[model.StatQueriesExecuted])
	assert.Equal(t, int64(2), got.Stats[model.StatVenuesStaged])
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
}

func TestStartRun_OnlyFromPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.RunKindDiscovery, model.RunConfig{})
	require.NoError(t, err)

	require.NoError(t, st.StartRun(ctx, run.ID))
	err = st.StartRun(ctx, run.ID)
	assert.True(t, eris.Is(err, ErrInvalidTransition))
}

func TestCompleteRun_RequiresRunning(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.RunKindExtraction, model.RunConfig{})
	require.NoError(t, err)

	err = st.CompleteRun(ctx, run.ID, nil)
	assert.True(t, eris.Is(err, ErrInvalidTransition))
}

func TestTerminalStateIsFinal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.RunKindDiscovery, model.RunConfig{})
	require.NoError(t, err)
	require.NoError(t, st.StartRun(ctx, run.ID))
	require.NoError(t, st.CompleteRun(ctx, run.ID, nil))

	assert.True(t, eris.Is(st.CompleteRun(ctx, run.ID, nil), ErrInvalidTransition))
	assert.True(t, eris.Is(st.FailRun(ctx, run.ID, ""), ErrInvalidTransition))
}

func TestFailRun_FromPendingOrRunning(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	pending, err := st.CreateRun(ctx, model.RunKindDiscovery, model.RunConfig{})
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, pending.ID, "budget throttled"))

	got, err := st.GetRun(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "budget throttled", got.Errors[0].Message)
	assert.Equal(t, int64(1), got.Stats[model.StatErrors])
}

func TestAddRunError_DoesNotChangeStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.RunKindExtraction, model.RunConfig{})
	require.NoError(t, err)
	require.NoError(t, st.StartRun(ctx, run.ID))

	require.NoError(t, st.AddRunError(ctx, run.ID, model.RunError{
		Message: "fetch failed", Target: "https://wolt.com/x", OccurredAt: time.Now().UTC(),
	}))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, int64(1), got.Stats[model.StatErrors])
}

func TestCancelRun_SetsFlagOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.RunKindDiscovery, model.RunConfig{})
	require.NoError(t, err)
	require.NoError(t, st.StartRun(ctx, run.ID))
	require.NoError(t, st.CancelRun(ctx, run.ID))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, got.Cancelled)
	assert.Equal(t, model.RunStatusRunning, got.Status)
}

func TestListRuns_Filters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	d, err := st.CreateRun(ctx, model.RunKindDiscovery, model.RunConfig{})
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, model.RunKindExtraction, model.RunConfig{})
	require.NoError(t, err)
	require.NoError(t, st.StartRun(ctx, d.ID))

	running, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, d.ID, running[0].ID)

	extractions, err := st.ListRuns(ctx, RunFilter{Kind: model.RunKindExtraction})
	require.NoError(t, err)
	assert.Len(t, extractions, 1)
}

// --- entities ---

func TestCreateEntity_DefaultsAndRoundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	e := &model.DiscoveredEntity{
		Kind:            model.EntityDish,
		Platform:        "wolt",
		Country:         "deu",
		Name:            "planted.chicken Burger",
		URL:             "https://wolt.com/en/deu/restaurant/green-garden",
		VenueID:         "green-garden",
		ConfidenceScore: 90,
		Flags:           []string{model.FlagVeganLabelled},
		Price:           "12,90",
		Currency:        "EUR",
	}
	require.NoError(t, st.CreateEntity(ctx, e))

	got, err := st.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EntityPending, got.Status)
	assert.Equal(t, []string{model.FlagVeganLabelled}, got.Flags)
	assert.Equal(t, "12,90", got.Price)
}

func TestUpdateEntityStatus_PromotedIsTerminal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	e := &model.DiscoveredEntity{Kind: model.EntityVenue, Platform: "wolt", Country: "deu", Name: "v"}
	require.NoError(t, st.CreateEntity(ctx, e))

	require.NoError(t, st.UpdateEntityStatus(ctx, e.ID, model.EntityApproved))
	require.NoError(t, st.UpdateEntityStatus(ctx, e.ID, model.EntityPromoted))

	err := st.UpdateEntityStatus(ctx, e.ID, model.EntityRejected)
	assert.True(t, eris.Is(err, ErrInvalidTransition))

	got, err := st.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EntityPromoted, got.Status)
}

func TestVenueStaged(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	staged, err := st.VenueStaged(ctx, "wolt", "green-garden")
	require.NoError(t, err)
	assert.False(t, staged)

	require.NoError(t, st.CreateEntity(ctx, &model.DiscoveredEntity{
		Kind: model.EntityVenue, Platform: "wolt", Country: "deu",
		Name: "Green Garden", VenueID: "green-garden",
	}))

	staged, err = st.VenueStaged(ctx, "wolt", "green-garden")
	require.NoError(t, err)
	assert.True(t, staged)

	// Same venue id on another platform is a different venue.
	staged, err = st.VenueStaged(ctx, "ubereats", "green-garden")
	require.NoError(t, err)
	assert.False(t, staged)
}

func TestListEntities_Filters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateEntity(ctx, &model.DiscoveredEntity{
		Kind: model.EntityVenue, Platform: "wolt", Country: "deu", Name: "a", RunID: "run-1",
	}))
	require.NoError(t, st.CreateEntity(ctx, &model.DiscoveredEntity{
		Kind: model.EntityDish, Platform: "wolt", Country: "deu", Name: "b", RunID: "run-1",
		Status: model.EntityNeedsReview,
	}))
	require.NoError(t, st.CreateEntity(ctx, &model.DiscoveredEntity{
		Kind: model.EntityVenue, Platform: "ubereats", Country: "deu", Name: "c", RunID: "run-2",
	}))

	byRun, err := st.ListEntities(ctx, EntityFilter{RunID: "run-1"})
	require.NoError(t, err)
	assert.Len(t, byRun, 2)

	venuesPending, err := st.ListEntities(ctx, EntityFilter{Kind: model.EntityVenue, Status: model.EntityPending})
	require.NoError(t, err)
	assert.Len(t, venuesPending, 2)

	limited, err := st.ListEntities(ctx, EntityFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- budget ---

func TestIncrementBudget_UpsertsBothPeriods(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	delta := model.BudgetDelta{PaidQueries: 2, CostUSD: 0.02}
	require.NoError(t, st.IncrementBudget(ctx, "2026-08-23", "2026-08", delta))
	require.NoError(t, st.IncrementBudget(ctx, "2026-08-23", "2026-08", delta))

	day, err := st.GetBudgetPeriod(ctx, "2026-08-23")
	require.NoError(t, err)
	assert.Equal(t, 4, day.PaidQueries)
	assert.InDelta(t, 0.04, day.CostUSD, 0.0001)

	month, err := st.GetBudgetPeriod(ctx, "2026-08")
	require.NoError(t, err)
	assert.Equal(t, 4, month.PaidQueries)
}

func TestGetBudgetPeriod_MissingIsZeroLedger(t *testing.T) {
	st := newTestStore(t)

	p, err := st.GetBudgetPeriod(context.Background(), "2031-01-01")
	require.NoError(t, err)
	assert.Equal(t, "2031-01-01", p.Key)
	assert.Equal(t, 0.0, p.CostUSD)
}

// --- feedback ---

func TestAppendAndListFeedback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendFeedback(ctx, &model.FeedbackRecord{
		EntityID: "e1", StrategyID: "s1", Result: model.FeedbackCorrect, Reviewer: "ops",
	}))
	require.NoError(t, st.AppendFeedback(ctx, &model.FeedbackRecord{
		EntityID: "e2", StrategyID: "s1", Result: model.FeedbackNotPlanted, Reviewer: "ops",
	}))
	require.NoError(t, st.AppendFeedback(ctx, &model.FeedbackRecord{
		EntityID: "e1", StrategyID: "s2", Result: model.FeedbackError, Reviewer: "ops", Notes: "dup",
	}))

	byStrategy, err := st.ListFeedback(ctx, FeedbackFilter{StrategyID: "s1"})
	require.NoError(t, err)
	assert.Len(t, byStrategy, 2)

	byEntity, err := st.ListFeedback(ctx, FeedbackFilter{EntityID: "e1"})
	require.NoError(t, err)
	assert.Len(t, byEntity, 2)

	all, err := st.ListFeedback(ctx, FeedbackFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "dup", all[2].Notes)
}
