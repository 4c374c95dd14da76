// Package runs tracks pipeline run lifecycle. State transitions are enforced
// by the store; this layer adds validation, event fan-out and convenience
// accessors for the control plane.
package runs

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/resilience"
	"github.com/eatplanted/venuescout/internal/store"
)

// Tracker owns run records and publishes updates to stream subscribers.
type Tracker struct {
	store store.Store
	hub   *Hub
}

// NewTracker creates a Tracker.
func NewTracker(st store.Store) *Tracker {
	return &Tracker{store: st, hub: NewHub()}
}

// Hub exposes the update stream for SSE subscribers.
func (t *Tracker) Hub() *Hub { return t.hub }

// Create validates the config and stages a pending run.
func (t *Tracker) Create(ctx context.Context, kind model.RunKind, cfg model.RunConfig) (*model.ScraperRun, error) {
	if kind != model.RunKindDiscovery && kind != model.RunKindExtraction {
		return nil, resilience.NewValidationError("kind", "must be discovery or extraction")
	}
	if kind == model.RunKindDiscovery && len(cfg.Countries) == 0 {
		return nil, resilience.NewValidationError("countries", "at least one country required")
	}
	if len(cfg.Platforms) == 0 && cfg.Target == "" {
		return nil, resilience.NewValidationError("platforms", "at least one platform required")
	}
	if cfg.VenueID != "" && len(cfg.Platforms) != 1 {
		return nil, resilience.NewValidationError("venue_id", "needs exactly one platform")
	}

	run, err := t.store.CreateRun(ctx, kind, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "runs: create")
	}
	zap.L().Info("run created",
		zap.String("run_id", run.ID),
		zap.String("kind", string(kind)),
	)
	t.hub.Publish(run)
	return run, nil
}

// Start transitions a pending run to running. Fails when the run is not
// pending, including when it was already claimed by another worker.
func (t *Tracker) Start(ctx context.Context, id string) (*model.ScraperRun, error) {
	if err := t.store.StartRun(ctx, id); err != nil {
		return nil, eris.Wrapf(err, "runs: start %s", id)
	}
	return t.publish(ctx, id)
}

// Get returns one run.
func (t *Tracker) Get(ctx context.Context, id string) (*model.ScraperRun, error) {
	return t.store.GetRun(ctx, id)
}

// List returns runs matching the filter, newest first.
func (t *Tracker) List(ctx context.Context, f store.RunFilter) ([]model.ScraperRun, error) {
	return t.store.ListRuns(ctx, f)
}

// MergeStats applies a stats delta and publishes the updated run.
func (t *Tracker) MergeStats(ctx context.Context, id string, delta model.RunStats) error {
	if err := t.store.MergeRunStats(ctx, id, delta); err != nil {
		return eris.Wrapf(err, "runs: merge stats %s", id)
	}
	_, err := t.publish(ctx, id)
	return err
}

// AddError appends a non-fatal error to the run record.
func (t *Tracker) AddError(ctx context.Context, id string, runErr model.RunError) error {
	if err := t.store.AddRunError(ctx, id, runErr); err != nil {
		return eris.Wrapf(err, "runs: add error %s", id)
	}
	_, err := t.publish(ctx, id)
	return err
}

// Complete marks a running run completed with its final stats.
func (t *Tracker) Complete(ctx context.Context, id string, final model.RunStats) error {
	if err := t.store.CompleteRun(ctx, id, final); err != nil {
		return eris.Wrapf(err, "runs: complete %s", id)
	}
	zap.L().Info("run completed", zap.String("run_id", id))
	if _, err := t.publish(ctx, id); err != nil {
		return err
	}
	t.hub.CloseRun(id)
	return nil
}

// Fail marks a pending or running run failed with a reason. A run that
// already reached a terminal state is left untouched.
func (t *Tracker) Fail(ctx context.Context, id, reason string) error {
	if err := t.store.FailRun(ctx, id, reason); err != nil {
		if eris.Is(err, store.ErrInvalidTransition) {
			return nil
		}
		return eris.Wrapf(err, "runs: fail %s", id)
	}
	zap.L().Warn("run failed", zap.String("run_id", id), zap.String("reason", reason))
	if _, err := t.publish(ctx, id); err != nil {
		return err
	}
	t.hub.CloseRun(id)
	return nil
}

// Cancel requests cancellation of a pending or running run. The orchestrator
// observes the flag between work units; in-flight work finishes first.
func (t *Tracker) Cancel(ctx context.Context, id string) error {
	if err := t.store.CancelRun(ctx, id); err != nil {
		return eris.Wrapf(err, "runs: cancel %s", id)
	}
	zap.L().Info("run cancellation requested", zap.String("run_id", id))
	_, err := t.publish(ctx, id)
	return err
}

// Cancelled reports whether cancellation was requested for the run.
func (t *Tracker) Cancelled(ctx context.Context, id string) bool {
	run, err := t.store.GetRun(ctx, id)
	if err != nil {
		zap.L().Warn("cancellation check failed", zap.String("run_id", id), zap.Error(err))
		return false
	}
	return run.Cancelled
}

func (t *Tracker) publish(ctx context.Context, id string) (*model.ScraperRun, error) {
	run, err := t.store.GetRun(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "runs: reload %s", id)
	}
	t.hub.Publish(run)
	return run, nil
}
