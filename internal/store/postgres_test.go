package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eatplanted/venuescout/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func strategyRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "platform", "country", "query_template", "success_rate", "total_uses",
		"successful_discoveries", "false_positives", "tags", "origin",
		"parent_strategy_id", "deprecated_at", "deprecated_reason", "created_at", "updated_at",
	})
}

func runRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "kind", "status", "config", "stats", "errors", "cancelled",
		"started_at", "completed_at", "created_at", "updated_at",
	})
}

func TestPostgresStore_GetStrategy_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM strategies WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetStrategy(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordStrategyUsage(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE strategies SET`).
		WithArgs(1, 0, "s1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`FROM strategies WHERE id = \$1`).
		WithArgs("s1").
		WillReturnRows(strategyRows().AddRow(
			"s1", "wolt", "de", `"planted" site:wolt.com`, 60, 5,
			3, 1, []byte(`["seed"]`), "seed",
			nil, nil, nil, now, now,
		))

	st, err := s.RecordStrategyUsage(context.Background(), "s1", true, false)
	require.NoError(t, err)
	assert.Equal(t, 60, st.SuccessRate)
	assert.Equal(t, 5, st.TotalUses)
	assert.Equal(t, []string{"seed"}, st.Tags)
	assert.Equal(t, model.OriginSeed, st.Origin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordStrategyUsage_Unknown(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE strategies SET`).
		WithArgs(0, 1, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err := s.RecordStrategyUsage(context.Background(), "ghost", false, true)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeprecateStrategy_AlreadyDeprecated(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE strategies SET deprecated_at`).
		WithArgs("noisy", "s1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`FROM strategies WHERE id = \$1`).
		WithArgs("s1").
		WillReturnRows(strategyRows().AddRow(
			"s1", "wolt", "de", `"planted"`, 0, 10,
			0, 8, []byte(`[]`), "seed",
			nil, now, "false positives", now, now,
		))

	// Deprecating twice keeps the first reason and reports success.
	err := s.DeprecateStrategy(context.Background(), "s1", "noisy")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, started_at = now\(\)`).
		WithArgs("running", "r1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.StartRun(context.Background(), "r1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartRun_AlreadyCompleted(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE runs SET status = \$1, started_at = now\(\)`).
		WithArgs("running", "r1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(runRows().AddRow(
			"r1", "discovery", "completed", []byte(`{}`), []byte(`{}`), []byte(`[]`),
			false, now, now, now, now,
		))

	err := s.StartRun(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartRun_Unknown(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, started_at = now\(\)`).
		WithArgs("running", "ghost", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	err := s.StartRun(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddRunError_BumpsErrorStat(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// A single statement appends the error and increments the errors stat.
	mock.ExpectExec(`errors = errors \|\| \$1::jsonb`).
		WithArgs(pgxmock.AnyArg(), "r1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.AddRunError(context.Background(), "r1", model.RunError{Message: "fetch failed"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CancelRun_Unknown(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET cancelled = true`).
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CancelRun(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(runRows().AddRow(
			"r1", "discovery", "running",
			[]byte(`{"countries": ["de"], "platforms": ["wolt"]}`),
			[]byte(`{"queries_executed": 4}`),
			[]byte(`[{"message": "boom"}]`),
			false, now, nil, now, now,
		))

	run, err := s.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.Equal(t, []string{"de"}, run.Config.Countries)
	assert.Equal(t, int64(4), run.Stats[model.StatQueriesExecuted])
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "boom", run.Errors[0].Message)
	require.NotNil(t, run.StartedAt)
	assert.Nil(t, run.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBudgetPeriod_MissingIsZero(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM budget_periods WHERE key = \$1`).
		WithArgs("2026-08-23").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.GetBudgetPeriod(context.Background(), "2026-08-23")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-23", p.Key)
	assert.Zero(t, p.PaidQueries)
	assert.Zero(t, p.CostUSD)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementBudget_BothPeriods(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO budget_periods`).
		WithArgs("2026-08-23", 2, 1, 0, 0, 0.05).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO budget_periods`).
		WithArgs("2026-08", 2, 1, 0, 0, 0.05).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.IncrementBudget(context.Background(), "2026-08-23", "2026-08", model.BudgetDelta{
		FreeQueries: 2, PaidQueries: 1, CostUSD: 0.05,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateEntity(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO entities`).
		WithArgs(
			pgxmock.AnyArg(), "venue", "pending", "wolt", "de",
			"berlin", "Green Garden", "https://wolt.com/en/deu/berlin/restaurant/green-garden", "green-garden",
			nil, "r1", "s1", 100, pgxmock.AnyArg(),
			nil, nil, nil, pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	e := &model.DiscoveredEntity{
		Kind:            model.EntityVenue,
		Platform:        "wolt",
		Country:         "de",
		City:            "berlin",
		Name:            "Green Garden",
		URL:             "https://wolt.com/en/deu/berlin/restaurant/green-garden",
		VenueID:         "green-garden",
		RunID:           "r1",
		StrategyID:      "s1",
		ConfidenceScore: 100,
	}
	err := s.CreateEntity(context.Background(), e)
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, model.EntityPending, e.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_VenueStaged(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(1\) FROM entities`).
		WithArgs("venue", "wolt", "green-garden").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	staged, err := s.VenueStaged(context.Background(), "wolt", "green-garden")
	require.NoError(t, err)
	assert.True(t, staged)
	assert.NoError(t, mock.ExpectationsWereMet())
}
