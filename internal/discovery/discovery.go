// Package discovery orchestrates venue discovery: ranked query strategies are
// rendered into search queries, executed through the cache and budget layers,
// and their hits staged for review. Chain suspects trigger bounded follow-up
// enumeration.
package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eatplanted/venuescout/internal/budget"
	"github.com/eatplanted/venuescout/internal/chain"
	"github.com/eatplanted/venuescout/internal/config"
	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/platform"
	"github.com/eatplanted/venuescout/internal/querycache"
	"github.com/eatplanted/venuescout/internal/resilience"
	"github.com/eatplanted/venuescout/internal/runs"
	"github.com/eatplanted/venuescout/internal/search"
	"github.com/eatplanted/venuescout/internal/store"
	"github.com/eatplanted/venuescout/internal/strategy"
)

// queryUnit is one search to execute. Depth 0 units come from strategies;
// deeper units are chain follow-ups.
type queryUnit struct {
	query      string
	platform   string
	country    string
	strategyID string
	depth      int
	brand      string
}

// Orchestrator runs discovery batches.
type Orchestrator struct {
	store      store.Store
	strategies *strategy.Service
	cache      *querycache.Cache
	governor   *budget.Governor
	searcher   *search.Service
	registry   *platform.Registry
	matcher    *platform.Matcher
	tracker    *runs.Tracker
	cfg        config.DiscoveryConfig
}

// NewOrchestrator wires a discovery Orchestrator.
func NewOrchestrator(
	st store.Store,
	strategies *strategy.Service,
	cache *querycache.Cache,
	governor *budget.Governor,
	searcher *search.Service,
	registry *platform.Registry,
	matcher *platform.Matcher,
	tracker *runs.Tracker,
	cfg config.DiscoveryConfig,
) *Orchestrator {
	return &Orchestrator{
		store:      st,
		strategies: strategies,
		cache:      cache,
		governor:   governor,
		searcher:   searcher,
		registry:   registry,
		matcher:    matcher,
		tracker:    tracker,
		cfg:        cfg,
	}
}

// Execute claims the run and works through its query plan wave by wave:
// strategy queries first, then chain follow-ups up to the configured depth.
// Cancellation and budget throttling are observed between work units;
// in-flight queries always finish and record their outcome.
func (o *Orchestrator) Execute(ctx context.Context, runID string) error {
	run, err := o.tracker.Start(ctx, runID)
	if err != nil {
		return err
	}

	if _, err := o.cache.CleanupExpired(ctx); err != nil {
		zap.L().Warn("query cache cleanup failed", zap.Error(err))
	}

	units, err := o.plan(ctx, run)
	if err != nil {
		_ = o.tracker.Fail(ctx, runID, err.Error())
		return err
	}

	maxQueries := run.Config.MaxQueries
	if maxQueries <= 0 {
		maxQueries = o.cfg.MaxQueries
	}

	if run.Config.DryRun {
		planned := len(units)
		if planned > maxQueries {
			planned = maxQueries
		}
		final := model.RunStats{model.StatQueriesPlanned: int64(planned)}
		return o.tracker.Complete(ctx, runID, final)
	}

	planned := len(units)
	if planned > maxQueries {
		planned = maxQueries
	}
	if err := o.governor.CanAffordScraperRun(ctx, planned, 0, o.searcher.FreeTier()); err != nil {
		_ = o.tracker.Fail(ctx, runID, err.Error())
		return err
	}

	maxDepth := run.Config.MaxChainDepth
	if maxDepth <= 0 {
		maxDepth = o.cfg.MaxChainDepth
	}

	executed := 0
	followups := 0

	for depth := 0; depth <= maxDepth && len(units) > 0; depth++ {
		budgetLeft := maxQueries - executed
		if budgetLeft <= 0 {
			break
		}
		if len(units) > budgetLeft {
			units = units[:budgetLeft]
		}

		hits, nExecuted := o.runWave(ctx, run, units)
		executed += nExecuted

		if o.tracker.Cancelled(ctx, runID) {
			zap.L().Info("discovery cancelled", zap.String("run_id", runID))
			break
		}

		if depth == maxDepth {
			break
		}
		next, nChains := o.chainFollowups(hits, depth+1, followups)
		followups += len(next)
		if nChains > 0 {
			_ = o.tracker.MergeStats(ctx, runID, model.RunStats{
				model.StatChainsDetected: int64(nChains),
				model.StatChainFollowups: int64(len(next)),
			})
		}
		units = next
	}

	return o.tracker.Complete(ctx, runID, model.RunStats{})
}

// plan renders strategy templates into concrete query units for every
// (platform, country) in scope, seeding fresh scopes first.
func (o *Orchestrator) plan(ctx context.Context, run *model.ScraperRun) ([]queryUnit, error) {
	var units []queryUnit
	for _, p := range run.Config.Platforms {
		adapter, err := o.registry.Get(p)
		if err != nil {
			return nil, err
		}
		for _, country := range run.Config.Countries {
			if !o.registry.Supports(p, country) {
				zap.L().Warn("platform does not cover country, skipping",
					zap.String("platform", p), zap.String("country", country))
				continue
			}
			if err := o.strategies.EnsureSeeds(ctx, p, country); err != nil {
				return nil, err
			}

			active, err := o.strategies.GetActiveStrategies(ctx, p, country, strategy.ListOptions{
				MinSuccessRate: o.cfg.MinSuccessRate,
			})
			if err != nil {
				return nil, err
			}
			for _, st := range active {
				units = append(units, queryUnit{
					query:      renderTemplate(st.QueryTemplate, adapter, ""),
					platform:   p,
					country:    country,
					strategyID: st.ID,
				})
			}
		}
	}
	return units, nil
}

// scopedHit carries a search hit with its scope for chain analysis.
type scopedHit struct {
	hit      model.SearchHit
	platform string
	country  string
	depth    int
	snippet  string
}

// runWave executes one depth level with a bounded worker pool. Returns the
// hits collected for chain analysis and the number of queries actually sent.
func (o *Orchestrator) runWave(ctx context.Context, run *model.ScraperRun, units []queryUnit) ([]scopedHit, int) {
	workers := o.cfg.MaxWorkers
	if workers <= 0 {
		workers = 4
	}

	var mu sync.Mutex
	var allHits []scopedHit
	executed := 0
	throttled := false

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, u := range units {
		mu.Lock()
		stop := throttled
		mu.Unlock()
		if stop || o.tracker.Cancelled(ctx, run.ID) {
			break
		}

		u := u
		g.Go(func() error {
			stats, hits, ran, err := o.executeQuery(gctx, run, u)
			if err != nil {
				if resilience.IsBudgetRefusal(err) {
					mu.Lock()
					throttled = true
					mu.Unlock()
					zap.L().Warn("discovery throttled mid-run", zap.Error(err))
				} else {
					_ = o.tracker.AddError(ctx, run.ID, model.RunError{
						Message:    err.Error(),
						Target:     u.query,
						OccurredAt: time.Now().UTC(),
					})
					// AddError also accounts the error in the run stats.
				}
			}

			mu.Lock()
			allHits = append(allHits, hits...)
			if ran {
				executed++
			}
			mu.Unlock()

			_ = o.tracker.MergeStats(ctx, run.ID, stats)
			return nil
		})
	}
	_ = g.Wait()

	return allHits, executed
}

// executeQuery runs one query through the dedup critical section, the budget
// meter and the search backend, stages its hits, and records the strategy
// outcome. ran reports whether the search actually executed.
func (o *Orchestrator) executeQuery(ctx context.Context, run *model.ScraperRun, u queryUnit) (model.RunStats, []scopedHit, bool, error) {
	stats := model.RunStats{}

	release := o.cache.Acquire(u.query)
	defer release()

	skip, err := o.cache.ShouldSkipQuery(ctx, u.query)
	if err != nil {
		return stats, nil, false, err
	}
	if skip {
		stats[model.StatQueriesSkipped] = 1
		return stats, nil, false, nil
	}

	if st, err := o.governor.ShouldThrottle(ctx); err != nil {
		return stats, nil, false, err
	} else if st.Throttle {
		return stats, nil, false, &resilience.ThrottledError{
			Reason:    st.Reason,
			DayCost:   st.DayCost,
			Remaining: st.RemainingBudget,
		}
	}

	results, err := o.searcher.Search(ctx, u.query, u.country)
	if err != nil {
		// The query did not execute; leave the cache untouched so it can be
		// retried next run.
		return stats, nil, false, err
	}
	stats[model.StatQueriesExecuted] = 1

	costs := budget.Costs{FreeQueries: 1}
	if !o.searcher.FreeTier() {
		costs = budget.Costs{PaidQueries: 1}
	}
	if err := o.governor.RecordScraperCosts(ctx, costs); err != nil {
		zap.L().Error("recording query cost failed", zap.Error(err))
	}

	adapter, err := o.registry.Get(u.platform)
	if err != nil {
		return stats, nil, true, err
	}

	var hits []scopedHit
	staged := 0
	for _, res := range results {
		venueID := adapter.ExtractVenueID(res.URL)
		if venueID == "" {
			continue
		}
		hit := model.SearchHit{
			Name:    strings.TrimSpace(res.Title),
			URL:     res.URL,
			VenueID: venueID,
			City:    adapter.ExtractCity(res.URL),
			Snippet: res.Description,
		}
		if hit.Snippet == "" {
			hit.Snippet = res.Content
		}
		hits = append(hits, scopedHit{
			hit:      hit,
			platform: u.platform,
			country:  u.country,
			depth:    u.depth,
			snippet:  hit.Snippet,
		})

		ok, err := o.stageHit(ctx, run, u, hit)
		if err != nil {
			zap.L().Warn("staging hit failed", zap.String("url", hit.URL), zap.Error(err))
			continue
		}
		if ok {
			staged++
		}
	}

	stats[model.StatVenuesFound] = int64(len(hits))
	stats[model.StatVenuesStaged] = int64(staged)

	if err := o.cache.RecordQuery(ctx, u.query, len(hits)); err != nil {
		zap.L().Warn("recording query cache failed", zap.Error(err))
	}

	if u.strategyID != "" {
		if _, err := o.strategies.RecordUsage(ctx, u.strategyID, strategy.UsageOutcome{
			Success: len(hits) > 0,
		}); err != nil {
			zap.L().Warn("recording strategy usage failed",
				zap.String("strategy_id", u.strategyID), zap.Error(err))
		}
	}

	return stats, hits, true, nil
}

// baseHitScore is the confidence for a venue hit whose snippet shows no
// product pattern at all; it still matched the query.
const baseHitScore = 40

// reviewFloor routes low-scoring hits straight to human review.
const reviewFloor = 70

// stageHit stages one venue hit unless the platform venue is already staged.
// Confidence comes from matching the product patterns against the result
// title and snippet.
func (o *Orchestrator) stageHit(ctx context.Context, run *model.ScraperRun, u queryUnit, hit model.SearchHit) (bool, error) {
	already, err := o.store.VenueStaged(ctx, u.platform, hit.VenueID)
	if err != nil {
		return false, err
	}
	if already {
		return false, nil
	}

	score := baseHitScore
	var flags []string
	matches := o.matcher.FindPlantedItems([]model.MenuItem{{Name: hit.Name, Description: hit.Snippet}})
	if len(matches) > 0 {
		score = matches[0].Confidence
		if !matches[0].Specific {
			flags = append(flags, model.FlagGenericMatch)
		}
	}
	if u.brand != "" {
		flags = append(flags, model.FlagChainSuspect)
	}

	status := model.EntityPending
	if score < reviewFloor {
		status = model.EntityNeedsReview
	}

	entity := &model.DiscoveredEntity{
		Kind:            model.EntityVenue,
		Status:          status,
		Platform:        u.platform,
		Country:         u.country,
		City:            hit.City,
		Name:            hit.Name,
		URL:             hit.URL,
		VenueID:         hit.VenueID,
		RunID:           run.ID,
		StrategyID:      u.strategyID,
		ConfidenceScore: score,
		Flags:           flags,
	}
	if err := o.store.CreateEntity(ctx, entity); err != nil {
		return false, err
	}
	return true, nil
}

// chainFollowups groups a wave's hits by brand, detects chains and builds the
// next wave of enumeration queries, bounded by MaxChainQueries across the
// whole run.
func (o *Orchestrator) chainFollowups(hits []scopedHit, depth, alreadyQueued int) ([]queryUnit, int) {
	type brandGroup struct {
		platform string
		country  string
		name     string
		cities   map[string]bool
		snippets []string
	}
	groups := make(map[string]*brandGroup)
	for _, h := range hits {
		if h.hit.Name == "" {
			continue
		}
		key := h.platform + "|" + h.country + "|" + strings.ToLower(strings.TrimSpace(h.hit.Name))
		g, ok := groups[key]
		if !ok {
			g = &brandGroup{
				platform: h.platform,
				country:  h.country,
				name:     h.hit.Name,
				cities:   make(map[string]bool),
			}
			groups[key] = g
		}
		if h.hit.City != "" {
			g.cities[h.hit.City] = true
		}
		g.snippets = append(g.snippets, h.snippet)
	}

	remaining := o.cfg.MaxChainQueries - alreadyQueued
	var units []queryUnit
	chains := 0
	for _, g := range groups {
		sig := chain.Detect(g.name, len(g.cities), strings.Join(g.snippets, "\n"))
		if !sig.IsChain() {
			continue
		}
		chains++
		if len(units) >= remaining {
			continue
		}

		adapter, err := o.registry.Get(g.platform)
		if err != nil {
			continue
		}

		// One country-wide enumeration plus a scoped variant per city the
		// brand was already seen in. City pages often list branches the
		// country query buries below the fold.
		base := `site:` + domainOf(adapter) + ` "` + sig.Brand + `"`
		variants := []string{base}
		cities := make([]string, 0, len(g.cities))
		for city := range g.cities {
			cities = append(cities, city)
		}
		sort.Strings(cities)
		for _, city := range cities {
			variants = append(variants, base+" "+city)
		}

		queued := 0
		for _, q := range variants {
			if len(units) >= remaining {
				break
			}
			units = append(units, queryUnit{
				query:    q,
				platform: g.platform,
				country:  g.country,
				depth:    depth,
				brand:    sig.Brand,
			})
			queued++
		}
		zap.L().Info("chain follow-ups queued",
			zap.String("brand", sig.Brand),
			zap.String("confidence", string(sig.Confidence)),
			zap.String("rule", sig.MatchedRule),
			zap.Int("locations", sig.Locations),
			zap.Int("queries", queued),
		)
	}
	return units, chains
}

// renderTemplate substitutes the query template placeholders. An empty city
// removes the placeholder and collapses leftover whitespace.
func renderTemplate(tmpl string, adapter platform.Adapter, city string) string {
	r := strings.NewReplacer(
		"{platform_domain}", domainOf(adapter),
		"{platform}", adapter.Platform(),
		"{city}", city,
	)
	return strings.Join(strings.Fields(r.Replace(tmpl)), " ")
}

func domainOf(adapter platform.Adapter) string {
	return strings.TrimPrefix(strings.TrimPrefix(adapter.BaseURL(), "https://"), "http://")
}
