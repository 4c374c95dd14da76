// Package strategy manages the lifecycle and performance ranking of search
// query templates. Strategies move through active -> deprecated only; their
// success rate is always recomputable from recorded outcomes.
package strategy

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/store"
)

// Tier boundaries. Rates from fewer than minUsesForTier trials are
// statistically unreliable and must not drive deprecation decisions.
const (
	minUsesForTier  = 5
	highRateFloor   = 70
	mediumRateFloor = 40
)

// ListOptions filter getActiveStrategies results.
type ListOptions struct {
	MinSuccessRate int
	Tags           []string
}

// UsageOutcome describes one use of a strategy.
type UsageOutcome struct {
	Success          bool
	WasFalsePositive bool
}

// Tiers partitions active strategies by reliability bucket.
type Tiers struct {
	High     []model.Strategy `json:"high"`
	Medium   []model.Strategy `json:"medium"`
	Low      []model.Strategy `json:"low"`
	Untested []model.Strategy `json:"untested"`
}

// Service provides strategy operations over the persistent store.
type Service struct {
	store store.Store
}

// NewService creates a strategy Service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// GetActiveStrategies returns non-deprecated strategies for the scope,
// filtered by threshold and tags, sorted by success_rate descending. Ties
// break toward lower total_uses so under-tested strategies among equals get
// exercised first; the final id tiebreak keeps ordering deterministic.
func (s *Service) GetActiveStrategies(ctx context.Context, platform, country string, opts ListOptions) ([]model.Strategy, error) {
	all, err := s.store.ListStrategies(ctx, store.StrategyFilter{
		Platform: platform,
		Country:  country,
	})
	if err != nil {
		return nil, eris.Wrap(err, "strategy: list")
	}

	var out []model.Strategy
	for _, st := range all {
		if st.TotalUses > 0 && st.SuccessRate < opts.MinSuccessRate {
			continue
		}
		if len(opts.Tags) > 0 && !hasAnyTag(st.Tags, opts.Tags) {
			continue
		}
		out = append(out, st)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate > out[j].SuccessRate
		}
		if out[i].TotalUses != out[j].TotalUses {
			return out[i].TotalUses < out[j].TotalUses
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RecordUsage increments the strategy's counters and recomputes its success
// rate from the updated counts. Returns store.ErrNotFound for unknown ids.
func (s *Service) RecordUsage(ctx context.Context, id string, outcome UsageOutcome) (*model.Strategy, error) {
	st, err := s.store.RecordStrategyUsage(ctx, id, outcome.Success, outcome.WasFalsePositive)
	if err != nil {
		return nil, eris.Wrapf(err, "strategy: record usage %s", id)
	}
	zap.L().Debug("strategy usage recorded",
		zap.String("strategy_id", id),
		zap.Bool("success", outcome.Success),
		zap.Int("total_uses", st.TotalUses),
		zap.Int("success_rate", st.SuccessRate),
	)
	return st, nil
}

// CreateEvolved derives a new strategy from a parent. The child starts with
// zeroed counters but inherits the parent's success rate as a prior; the rate
// is not recomputed until the child's first use.
func (s *Service) CreateEvolved(ctx context.Context, parentID, newTemplate string, tags []string) (*model.Strategy, error) {
	parent, err := s.store.GetStrategy(ctx, parentID)
	if err != nil {
		return nil, eris.Wrapf(err, "strategy: get parent %s", parentID)
	}

	child := &model.Strategy{
		Platform:         parent.Platform,
		Country:          parent.Country,
		QueryTemplate:    newTemplate,
		SuccessRate:      parent.SuccessRate,
		Tags:             tags,
		Origin:           model.OriginEvolved,
		ParentStrategyID: parent.ID,
	}
	if err := s.store.CreateStrategy(ctx, child); err != nil {
		return nil, eris.Wrap(err, "strategy: create evolved")
	}

	zap.L().Info("strategy evolved",
		zap.String("parent_id", parent.ID),
		zap.String("child_id", child.ID),
		zap.String("template", newTemplate),
	)
	return child, nil
}

// GetStrategyTiers partitions all active strategies for the scope. Strategies
// with fewer than five uses land in Untested regardless of their rate.
func (s *Service) GetStrategyTiers(ctx context.Context, platform, country string) (*Tiers, error) {
	active, err := s.GetActiveStrategies(ctx, platform, country, ListOptions{})
	if err != nil {
		return nil, err
	}

	t := &Tiers{}
	for _, st := range active {
		switch {
		case st.TotalUses < minUsesForTier:
			t.Untested = append(t.Untested, st)
		case st.SuccessRate >= highRateFloor:
			t.High = append(t.High, st)
		case st.SuccessRate >= mediumRateFloor:
			t.Medium = append(t.Medium, st)
		default:
			t.Low = append(t.Low, st)
		}
	}
	return t, nil
}

// Deprecate permanently removes a strategy from active selection.
func (s *Service) Deprecate(ctx context.Context, id, reason string) error {
	if err := s.store.DeprecateStrategy(ctx, id, reason); err != nil {
		return eris.Wrapf(err, "strategy: deprecate %s", id)
	}
	zap.L().Info("strategy deprecated", zap.String("strategy_id", id), zap.String("reason", reason))
	return nil
}

// Get returns one strategy by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Strategy, error) {
	return s.store.GetStrategy(ctx, id)
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
