// Package store persists strategies, cache entries, budget ledgers, runs,
// staged entities and feedback behind a driver-agnostic interface.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/eatplanted/venuescout/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrInvalidTransition is returned when a run status change violates the
// pending -> running -> {completed | failed} machine, including a second
// terminal call.
var ErrInvalidTransition = eris.New("store: invalid run transition")

// StrategyFilter selects strategies for listing.
type StrategyFilter struct {
	Platform          string
	Country           string
	IncludeDeprecated bool
}

// RunFilter selects runs for listing.
type RunFilter struct {
	Status model.RunStatus
	Kind   model.RunKind
	Limit  int
}

// EntityFilter selects staged entities for listing.
type EntityFilter struct {
	RunID    string
	Status   model.EntityStatus
	Kind     model.EntityKind
	Platform string
	Limit    int
}

// FeedbackFilter selects feedback records for listing.
type FeedbackFilter struct {
	StrategyID string
	EntityID   string
	Limit      int
}

// Store is the persistence contract for the pipeline. Core logic assumes
// only this interface, not a specific storage engine.
type Store interface {
	// Strategies. Strategies are never deleted, only deprecated.
	CreateStrategy(ctx context.Context, s *model.Strategy) error
	GetStrategy(ctx context.Context, id string) (*model.Strategy, error)
	ListStrategies(ctx context.Context, f StrategyFilter) ([]model.Strategy, error)
	// RecordStrategyUsage increments the usage counters in one statement and
	// recomputes success_rate from the stored counts, never incrementally.
	RecordStrategyUsage(ctx context.Context, id string, success, falsePositive bool) (*model.Strategy, error)
	// SetStrategyRate overwrites the counters from a feedback-log recompute.
	SetStrategyRate(ctx context.Context, id string, successful, total int) error
	DeprecateStrategy(ctx context.Context, id, reason string) error

	// Query dedup cache. One row per hash; upsert overwrites.
	GetQueryCache(ctx context.Context, hash string) (*model.QueryCacheEntry, error)
	UpsertQueryCache(ctx context.Context, e *model.QueryCacheEntry) error
	DeleteExpiredQueryCache(ctx context.Context) (int64, error)

	// Budget ledger. IncrementBudget applies the delta to both the day and
	// month rows transactionally; concurrent callers must not lose updates.
	IncrementBudget(ctx context.Context, dayKey, monthKey string, d model.BudgetDelta) error
	GetBudgetPeriod(ctx context.Context, key string) (*model.BudgetPeriod, error)
	AppendBudgetEvent(ctx context.Context, ev *model.BudgetEvent) error
	ListBudgetEvents(ctx context.Context, limit int) ([]model.BudgetEvent, error)

	// Runs. Status transitions are guarded in the store so concurrent
	// workers cannot double-start or double-complete a run.
	CreateRun(ctx context.Context, kind model.RunKind, cfg model.RunConfig) (*model.ScraperRun, error)
	GetRun(ctx context.Context, id string) (*model.ScraperRun, error)
	ListRuns(ctx context.Context, f RunFilter) ([]model.ScraperRun, error)
	StartRun(ctx context.Context, id string) error
	MergeRunStats(ctx context.Context, id string, delta model.RunStats) error
	AddRunError(ctx context.Context, id string, rerr model.RunError) error
	CompleteRun(ctx context.Context, id string, final model.RunStats) error
	FailRun(ctx context.Context, id string, errMsg string) error
	CancelRun(ctx context.Context, id string) error

	// Staged entities.
	CreateEntity(ctx context.Context, e *model.DiscoveredEntity) error
	GetEntity(ctx context.Context, id string) (*model.DiscoveredEntity, error)
	ListEntities(ctx context.Context, f EntityFilter) ([]model.DiscoveredEntity, error)
	UpdateEntityStatus(ctx context.Context, id string, status model.EntityStatus) error
	VenueStaged(ctx context.Context, platform, venueID string) (bool, error)

	// Feedback log. Append-only.
	AppendFeedback(ctx context.Context, r *model.FeedbackRecord) error
	ListFeedback(ctx context.Context, f FeedbackFilter) ([]model.FeedbackRecord, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
