// Package feedback records human review verdicts and derives strategy and
// pipeline performance from the append-only log. The log is the source of
// truth: every aggregation here is a pure function over it and can be rerun
// at any time.
package feedback

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/resilience"
	"github.com/eatplanted/venuescout/internal/store"
)

// problematicErrorShare and problematicMinSamples gate the problematic flag:
// over 30% non-correct verdicts with at least 5 reviews.
const (
	problematicErrorShare = 0.30
	problematicMinSamples = 5
)

// Service appends feedback and computes aggregations over the log.
type Service struct {
	store store.Store
}

// NewService creates a feedback Service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Submit validates and appends one review verdict, then mirrors the verdict
// onto the entity's review status. The log write is the durable step; the
// status update is a convenience projection.
func (s *Service) Submit(ctx context.Context, rec *model.FeedbackRecord) error {
	if rec.EntityID == "" {
		return resilience.NewValidationError("entity_id", "required")
	}
	if rec.Reviewer == "" {
		return resilience.NewValidationError("reviewer", "required")
	}
	if !rec.Result.Valid() {
		return resilience.NewValidationError("result", "unknown result type")
	}

	entity, err := s.store.GetEntity(ctx, rec.EntityID)
	if err != nil {
		return eris.Wrapf(err, "feedback: entity %s", rec.EntityID)
	}
	if rec.StrategyID == "" {
		rec.StrategyID = entity.StrategyID
	}

	if err := s.store.AppendFeedback(ctx, rec); err != nil {
		return eris.Wrap(err, "feedback: append")
	}

	status := model.EntityRejected
	if rec.Result == model.FeedbackCorrect {
		status = model.EntityApproved
	}
	if err := s.store.UpdateEntityStatus(ctx, rec.EntityID, status); err != nil {
		// The verdict is recorded; a stale projection is repairable.
		zap.L().Warn("feedback recorded but entity status update failed",
			zap.String("entity_id", rec.EntityID), zap.Error(err))
	}

	zap.L().Info("feedback recorded",
		zap.String("entity_id", rec.EntityID),
		zap.String("strategy_id", rec.StrategyID),
		zap.String("result", string(rec.Result)),
	)
	return nil
}

// List returns feedback records matching the filter, newest first.
func (s *Service) List(ctx context.Context, f store.FeedbackFilter) ([]model.FeedbackRecord, error) {
	return s.store.ListFeedback(ctx, f)
}

// StrategyPerformance is the log-derived view of one strategy.
type StrategyPerformance struct {
	StrategyID  string  `json:"strategy_id"`
	Total       int     `json:"total"`
	Correct     int     `json:"correct"`
	Errors      int     `json:"errors"`
	SuccessRate int     `json:"success_rate"`
	ErrorShare  float64 `json:"error_share"`
	Problematic bool    `json:"problematic"`
}

// rate rounds a ratio to a whole percentage.
func rate(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(float64(part)/float64(total)*100 + 0.5)
}

// StrategyRates recomputes per-strategy performance from the full log.
// "correct" counts as success; every other verdict counts toward the
// problematic share. Hard "error" verdicts are additionally tallied on
// their own.
func (s *Service) StrategyRates(ctx context.Context) (map[string]*StrategyPerformance, error) {
	records, err := s.store.ListFeedback(ctx, store.FeedbackFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "feedback: list for rates")
	}

	out := make(map[string]*StrategyPerformance)
	for _, rec := range records {
		if rec.StrategyID == "" {
			continue
		}
		p, ok := out[rec.StrategyID]
		if !ok {
			p = &StrategyPerformance{StrategyID: rec.StrategyID}
			out[rec.StrategyID] = p
		}
		p.Total++
		switch rec.Result {
		case model.FeedbackCorrect:
			p.Correct++
		case model.FeedbackError:
			p.Errors++
		}
	}

	for _, p := range out {
		p.SuccessRate = rate(p.Correct, p.Total)
		p.ErrorShare = float64(p.Total-p.Correct) / float64(p.Total)
		p.Problematic = p.Total >= problematicMinSamples && p.ErrorShare > problematicErrorShare
	}
	return out, nil
}

// PipelineRate returns the overall share of correct verdicts as a whole
// percentage, with the sample size.
func (s *Service) PipelineRate(ctx context.Context) (int, int, error) {
	records, err := s.store.ListFeedback(ctx, store.FeedbackFilter{})
	if err != nil {
		return 0, 0, eris.Wrap(err, "feedback: list for pipeline rate")
	}

	correct := 0
	for _, rec := range records {
		if rec.Result == model.FeedbackCorrect {
			correct++
		}
	}
	return rate(correct, len(records)), len(records), nil
}

// ApplyToStrategies overwrites strategy counters from the log-derived rates
// and deprecates any strategy that crossed the problematic threshold.
// Returns the number of strategies updated.
func (s *Service) ApplyToStrategies(ctx context.Context) (int, error) {
	rates, err := s.StrategyRates(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for id, p := range rates {
		if err := s.store.SetStrategyRate(ctx, id, p.Correct, p.Total); err != nil {
			if eris.Is(err, store.ErrNotFound) {
				zap.L().Warn("feedback references unknown strategy", zap.String("strategy_id", id))
				continue
			}
			return updated, eris.Wrapf(err, "feedback: apply to strategy %s", id)
		}
		updated++

		if p.Problematic {
			reason := fmt.Sprintf("problematic: %d%% non-correct over %d reviews",
				int(p.ErrorShare*100+0.5), p.Total)
			if err := s.store.DeprecateStrategy(ctx, id, reason); err != nil {
				return updated, eris.Wrapf(err, "feedback: deprecate strategy %s", id)
			}
			zap.L().Warn("strategy deprecated as problematic",
				zap.String("strategy_id", id),
				zap.Int("reviews", p.Total),
				zap.Float64("error_share", p.ErrorShare),
			)
		}
	}
	return updated, nil
}
