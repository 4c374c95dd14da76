package strategy

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/store"
)

// seedTemplates are the starting query templates for any new
// (platform, country) scope. Placeholders: {platform_domain}, {country},
// {city}, {product}. Untested seeds rank below proven strategies but are
// still tried because their rate is the zero value.
var seedTemplates = []struct {
	template string
	tags     []string
}{
	{`site:{platform_domain} "planted chicken" {city}`, []string{"branded", "dish"}},
	{`site:{platform_domain} "planted.chicken" {city}`, []string{"branded", "dish"}},
	{`site:{platform_domain} planted kebab {city}`, []string{"branded", "dish"}},
	{`site:{platform_domain} "planted" vegan {city}`, []string{"branded", "generic"}},
	{`{platform} planted chicken {city}`, []string{"broad"}},
	{`{platform} plant-based chicken {city} restaurant`, []string{"generic"}},
}

// EnsureSeeds creates the seed strategies for a scope when none exist yet.
// It is idempotent per (platform, country).
func (s *Service) EnsureSeeds(ctx context.Context, platform, country string) error {
	existing, err := s.store.ListStrategies(ctx, store.StrategyFilter{
		Platform:          platform,
		Country:           country,
		IncludeDeprecated: true,
	})
	if err != nil {
		return eris.Wrap(err, "strategy: list for seeding")
	}
	if len(existing) > 0 {
		return nil
	}

	for _, seed := range seedTemplates {
		st := &model.Strategy{
			Platform:      platform,
			Country:       country,
			QueryTemplate: seed.template,
			Tags:          seed.tags,
			Origin:        model.OriginSeed,
		}
		if err := s.store.CreateStrategy(ctx, st); err != nil {
			return eris.Wrap(err, "strategy: create seed")
		}
	}

	zap.L().Info("seeded strategies",
		zap.String("platform", platform),
		zap.String("country", country),
		zap.Int("count", len(seedTemplates)),
	)
	return nil
}
