// Package extraction turns discovered venues into staged menu entities:
// fetch the venue page, parse it, match product patterns, score, stage.
package extraction

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eatplanted/venuescout/internal/budget"
	"github.com/eatplanted/venuescout/internal/config"
	"github.com/eatplanted/venuescout/internal/confidence"
	"github.com/eatplanted/venuescout/internal/fetch"
	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/platform"
	"github.com/eatplanted/venuescout/internal/resilience"
	"github.com/eatplanted/venuescout/internal/runs"
	"github.com/eatplanted/venuescout/internal/store"
)

// target is one venue page to extract.
type target struct {
	platform string
	url      string
	venueID  string
	// parentEntity links staged dishes back to an already staged venue.
	parentEntity string
	strategyID   string
}

// Runner executes extraction runs.
type Runner struct {
	store    store.Store
	registry *platform.Registry
	fetcher  fetch.Fetcher
	matcher  *platform.Matcher
	scorer   *confidence.Scorer
	tracker  *runs.Tracker
	governor *budget.Governor
	cfg      config.ExtractionConfig
}

// NewRunner wires an extraction Runner.
func NewRunner(
	st store.Store,
	registry *platform.Registry,
	fetcher fetch.Fetcher,
	matcher *platform.Matcher,
	scorer *confidence.Scorer,
	tracker *runs.Tracker,
	governor *budget.Governor,
	cfg config.ExtractionConfig,
) *Runner {
	return &Runner{
		store:    st,
		registry: registry,
		fetcher:  fetcher,
		matcher:  matcher,
		scorer:   scorer,
		tracker:  tracker,
		governor: governor,
		cfg:      cfg,
	}
}

// Execute claims the run, resolves its targets and works through them with a
// bounded worker pool. Worker failures are recorded against the run and do
// not abort the remaining targets; only a failure to persist progress fails
// the run.
func (r *Runner) Execute(ctx context.Context, runID string) error {
	run, err := r.tracker.Start(ctx, runID)
	if err != nil {
		return err
	}

	targets, err := r.resolveTargets(ctx, run)
	if err != nil {
		_ = r.tracker.Fail(ctx, runID, err.Error())
		return err
	}

	maxVenues := run.Config.MaxVenues
	if maxVenues <= 0 {
		maxVenues = r.cfg.MaxVenues
	}
	if maxVenues > 0 && len(targets) > maxVenues {
		targets = targets[:maxVenues]
	}

	zap.L().Info("extraction run starting",
		zap.String("run_id", runID),
		zap.Int("targets", len(targets)),
		zap.Bool("dry_run", run.Config.DryRun),
	)

	if run.Config.DryRun {
		final := model.RunStats{model.StatQueriesPlanned: int64(len(targets))}
		return r.tracker.Complete(ctx, runID, final)
	}

	workers := r.cfg.MaxWorkers
	if workers <= 0 {
		workers = 4
	}

	var mu sync.Mutex
	aiCalls := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, t := range targets {
		if r.tracker.Cancelled(ctx, runID) {
			zap.L().Info("extraction cancelled, stopping dispatch", zap.String("run_id", runID))
			break
		}
		t := t
		g.Go(func() error {
			stats, calls, err := r.extractOne(gctx, run, t)
			if err != nil {
				_ = r.tracker.AddError(ctx, runID, model.RunError{
					Message:    err.Error(),
					Target:     t.url,
					OccurredAt: time.Now().UTC(),
				})
				// AddError also accounts the error in the run stats.
			}

			mu.Lock()
			aiCalls += calls
			mu.Unlock()

			if err := r.tracker.MergeStats(ctx, runID, stats); err != nil {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		_ = r.tracker.Fail(ctx, runID, err.Error())
		return err
	}

	if aiCalls > 0 {
		if err := r.governor.RecordScraperCosts(ctx, budget.Costs{AICallsLight: aiCalls}); err != nil {
			zap.L().Error("recording extraction AI costs failed", zap.Error(err))
		}
	}

	return r.tracker.Complete(ctx, runID, model.RunStats{})
}

// resolveTargets expands the run config into concrete venue pages.
func (r *Runner) resolveTargets(ctx context.Context, run *model.ScraperRun) ([]target, error) {
	cfg := run.Config

	// A single explicit URL.
	if cfg.Target != "" {
		p, err := r.platformFor(cfg, cfg.Target)
		if err != nil {
			return nil, err
		}
		adapter, err := r.registry.Get(p)
		if err != nil {
			return nil, err
		}
		return []target{{platform: p, url: cfg.Target, venueID: adapter.ExtractVenueID(cfg.Target)}}, nil
	}

	// A known platform venue id.
	if cfg.VenueID != "" {
		if len(cfg.Platforms) != 1 {
			return nil, resilience.NewValidationError("platforms", "venue_id extraction needs exactly one platform")
		}
		p := cfg.Platforms[0]
		adapter, err := r.registry.Get(p)
		if err != nil {
			return nil, err
		}
		country := ""
		if len(cfg.Countries) > 0 {
			country = cfg.Countries[0]
		}
		return []target{{platform: p, url: adapter.BuildVenueURL(cfg.VenueID, country), venueID: cfg.VenueID}}, nil
	}

	// Default: staged venues awaiting extraction, optionally scoped to a
	// chain's sibling venues.
	entities, err := r.store.ListEntities(ctx, store.EntityFilter{
		Kind:   model.EntityVenue,
		Status: model.EntityPending,
	})
	if err != nil {
		return nil, eris.Wrap(err, "extraction: list staged venues")
	}

	var targets []target
	for _, e := range entities {
		if cfg.ChainID != "" && e.ParentEntityID != cfg.ChainID && e.ID != cfg.ChainID {
			continue
		}
		if len(cfg.Platforms) > 0 && !contains(cfg.Platforms, e.Platform) {
			continue
		}
		if e.URL == "" {
			continue
		}
		targets = append(targets, target{
			platform:     e.Platform,
			url:          e.URL,
			venueID:      e.VenueID,
			parentEntity: e.ID,
			strategyID:   e.StrategyID,
		})
	}
	return targets, nil
}

// platformFor picks the adapter for an explicit URL, from config or by URL
// inspection.
func (r *Runner) platformFor(cfg model.RunConfig, url string) (string, error) {
	if len(cfg.Platforms) == 1 {
		return cfg.Platforms[0], nil
	}
	for _, p := range r.registry.Platforms() {
		adapter, err := r.registry.Get(p)
		if err != nil {
			continue
		}
		if strings.Contains(url, strings.TrimPrefix(adapter.BaseURL(), "https://")) {
			return p, nil
		}
	}
	return "", resilience.NewValidationError("target", "cannot infer platform from url")
}

// extractOne fetches, parses and stages a single venue. The returned stats
// always describe what actually happened, error or not.
func (r *Runner) extractOne(ctx context.Context, run *model.ScraperRun, t target) (model.RunStats, int, error) {
	stats := model.RunStats{}

	adapter, err := r.registry.Get(t.platform)
	if err != nil {
		return stats, 0, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	page, err := r.fetcher.Fetch(fetchCtx, t.url)
	if err != nil {
		if resilience.IsBlocked(err) {
			stats[model.StatPagesBlocked] = 1
		}
		return stats, 0, err
	}
	stats[model.StatPagesFetched] = 1

	data := adapter.ParseVenuePage(page.Body)
	if data.Name == "" && len(data.MenuItems) == 0 {
		stats[model.StatParseFailures] = 1
		return stats, 0, eris.Errorf("extraction: nothing parseable at %s", t.url)
	}
	partial := data.Name == "" || len(data.MenuItems) == 0

	matches := r.matcher.FindPlantedItems(data.MenuItems)
	if len(matches) == 0 {
		zap.L().Debug("no product matches",
			zap.String("venue", data.Name), zap.String("url", t.url))
		return stats, 0, nil
	}

	venueEntityID := t.parentEntity
	if venueEntityID == "" {
		id, staged, err := r.stageVenue(ctx, run, t, data)
		if err != nil {
			return stats, 0, err
		}
		venueEntityID = id
		if staged {
			stats[model.StatVenuesStaged] = 1
		}
	}

	aiCalls := 0
	for _, m := range matches {
		score, flags, calls := r.scorer.ScoreDish(ctx, data.Name, m, partial)
		aiCalls += calls
		if score == 0 {
			continue
		}

		dish := &model.DiscoveredEntity{
			Kind:            model.EntityDish,
			Status:          r.scorer.StatusFor(score),
			Platform:        t.platform,
			Country:         data.Country,
			City:            data.City,
			Name:            m.Item.Name,
			URL:             t.url,
			VenueID:         t.venueID,
			ParentEntityID:  venueEntityID,
			RunID:           run.ID,
			StrategyID:      t.strategyID,
			ConfidenceScore: score,
			Flags:           flags,
			Description:     m.Item.Description,
			Price:           m.Item.Price,
			Currency:        m.Item.Currency,
		}
		if err := r.store.CreateEntity(ctx, dish); err != nil {
			return stats, aiCalls, eris.Wrap(err, "extraction: stage dish")
		}
		stats[model.StatDishesStaged] = stats[model.StatDishesStaged] + 1
	}

	return stats, aiCalls, nil
}

// stageVenue stages the venue entity unless the same platform venue was
// staged before. Returns the entity id and whether a new row was created.
func (r *Runner) stageVenue(ctx context.Context, run *model.ScraperRun, t target, data model.VenueData) (string, bool, error) {
	if t.venueID != "" {
		staged, err := r.store.VenueStaged(ctx, t.platform, t.venueID)
		if err != nil {
			return "", false, eris.Wrap(err, "extraction: staged check")
		}
		if staged {
			// Reuse the existing row so dishes attach to it.
			existing, err := r.store.ListEntities(ctx, store.EntityFilter{
				Kind:     model.EntityVenue,
				Platform: t.platform,
			})
			if err != nil {
				return "", false, eris.Wrap(err, "extraction: find staged venue")
			}
			for _, e := range existing {
				if e.VenueID == t.venueID {
					return e.ID, false, nil
				}
			}
		}
	}

	venue := &model.DiscoveredEntity{
		Kind:            model.EntityVenue,
		Status:          model.EntityPending,
		Platform:        t.platform,
		Country:         data.Country,
		City:            data.City,
		Name:            data.Name,
		URL:             t.url,
		VenueID:         t.venueID,
		RunID:           run.ID,
		StrategyID:      t.strategyID,
		ConfidenceScore: 100,
	}
	if err := r.store.CreateEntity(ctx, venue); err != nil {
		return "", false, eris.Wrap(err, "extraction: stage venue")
	}
	return venue.ID, true, nil
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
