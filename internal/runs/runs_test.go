package runs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/resilience"
	"github.com/eatplanted/venuescout/internal/store"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return NewTracker(st)
}

func discoveryConfig() model.RunConfig {
	return model.RunConfig{Countries: []string{"deu"}, Platforms: []string{"wolt"}}
}

func TestCreate_ValidatesKind(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.Create(context.Background(), model.RunKind("backfill"), discoveryConfig())
	require.Error(t, err)

	var ve *resilience.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "kind", ve.Field)
}

func TestCreate_DiscoveryRequiresCountries(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.Create(context.Background(), model.RunKindDiscovery, model.RunConfig{Platforms: []string{"wolt"}})
	var ve *resilience.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "countries", ve.Field)
}

func TestCreate_ExtractionTargetNeedsNoPlatformList(t *testing.T) {
	tr := newTestTracker(t)

	run, err := tr.Create(context.Background(), model.RunKindExtraction, model.RunConfig{
		Target: "https://wolt.com/en/deu/restaurant/green-garden",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPending, run.Status)
}

func TestCreate_VenueIDNeedsExactlyOnePlatform(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.Create(context.Background(), model.RunKindExtraction, model.RunConfig{
		VenueID: "green-garden", Platforms: []string{"wolt", "ubereats"},
	})
	var ve *resilience.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "venue_id", ve.Field)
}

func TestTracker_Lifecycle(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	run, err := tr.Create(ctx, model.RunKindDiscovery, discoveryConfig())
	require.NoError(t, err)

	started, err := tr.Start(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, started.Status)

	require.NoError(t, tr.MergeStats(ctx, run.ID, model.RunStats{model.StatQueriesExecuted: 2}))
	require.NoError(t, tr.Complete(ctx, run.ID, model.RunStats{}))

	got, err := tr.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, int64(2), got.Stats[model.StatQueriesExecuted])
}

func TestFail_AfterTerminalIsNoop(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	run, err := tr.Create(ctx, model.RunKindDiscovery, discoveryConfig())
	require.NoError(t, err)
	_, err = tr.Start(ctx, run.ID)
	require.NoError(t, err)
	require.NoError(t, tr.Complete(ctx, run.ID, nil))

	// The deferred failure path must not clobber a completed run.
	require.NoError(t, tr.Fail(ctx, run.ID, "late failure"))

	got, err := tr.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
}

func TestFail_PendingRun(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	run, err := tr.Create(ctx, model.RunKindDiscovery, discoveryConfig())
	require.NoError(t, err)
	require.NoError(t, tr.Fail(ctx, run.ID, "budget throttled"))

	got, err := tr.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "budget throttled", got.Errors[0].Message)
}

func TestCancelled_FlagVisibleToOrchestrator(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	run, err := tr.Create(ctx, model.RunKindDiscovery, discoveryConfig())
	require.NoError(t, err)
	_, err = tr.Start(ctx, run.ID)
	require.NoError(t, err)

	assert.False(t, tr.Cancelled(ctx, run.ID))
	require.NoError(t, tr.Cancel(ctx, run.ID))
	assert.True(t, tr.Cancelled(ctx, run.ID))

	// Cancellation is a request, not a transition.
	got, err := tr.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
}

func TestStart_DoubleClaimRejected(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	run, err := tr.Create(ctx, model.RunKindDiscovery, discoveryConfig())
	require.NoError(t, err)

	_, err = tr.Start(ctx, run.ID)
	require.NoError(t, err)
	_, err = tr.Start(ctx, run.ID)
	assert.True(t, eris.Is(err, store.ErrInvalidTransition))
}

func TestSubscriberSeesLifecycleUpdates(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	run, err := tr.Create(ctx, model.RunKindDiscovery, discoveryConfig())
	require.NoError(t, err)

	ch, cancel := tr.Hub().Subscribe(run.ID)
	defer cancel()

	_, err = tr.Start(ctx, run.ID)
	require.NoError(t, err)
	require.NoError(t, tr.Complete(ctx, run.ID, nil))

	var statuses []model.RunStatus
	for update := range ch {
		statuses = append(statuses, update.Status)
	}
	assert.Equal(t, []model.RunStatus{model.RunStatusRunning, model.RunStatusCompleted}, statuses)
}
