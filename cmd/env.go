package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/eatplanted/venuescout/internal/budget"
	"github.com/eatplanted/venuescout/internal/confidence"
	"github.com/eatplanted/venuescout/internal/discovery"
	"github.com/eatplanted/venuescout/internal/extraction"
	"github.com/eatplanted/venuescout/internal/feedback"
	"github.com/eatplanted/venuescout/internal/fetch"
	"github.com/eatplanted/venuescout/internal/platform"
	"github.com/eatplanted/venuescout/internal/querycache"
	"github.com/eatplanted/venuescout/internal/runs"
	"github.com/eatplanted/venuescout/internal/search"
	"github.com/eatplanted/venuescout/internal/store"
	"github.com/eatplanted/venuescout/internal/strategy"
	anthropicpkg "github.com/eatplanted/venuescout/pkg/anthropic"
	"github.com/eatplanted/venuescout/pkg/jina"
)

// pipelineEnv holds the initialized store and services shared by the
// commands.
type pipelineEnv struct {
	Store      store.Store
	Strategies *strategy.Service
	Cache      *querycache.Cache
	Governor   *budget.Governor
	Searcher   *search.Service
	Registry   *platform.Registry
	Matcher    *platform.Matcher
	Tracker    *runs.Tracker
	Feedback   *feedback.Service
	Discovery  *discovery.Orchestrator
	Extraction *extraction.Runner

	browser *fetch.BrowserFetcher
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.browser != nil {
		_ = pe.browser.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured persistence backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "", "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv sets up the store, clients and services. Callers should defer
// env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	patterns := platform.DefaultPatterns()
	if cfg.Patterns.File != "" {
		patterns, err = platform.LoadPatterns(cfg.Patterns.File)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("product patterns loaded", zap.String("file", cfg.Patterns.File))
	}
	matcher := platform.NewMatcher(patterns, cfg.Confidence)

	registry := platform.NewRegistry(
		platform.NewWolt(matcher.Keywords()),
		platform.NewUberEats(matcher.Keywords()),
	)

	var jinaOpts []jina.Option
	if cfg.Search.BaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Search.BaseURL))
	}
	jinaClient := jina.NewClient(cfg.Search.Key, jinaOpts...)
	searcher := search.New(jinaClient, cfg.Search)

	// Fetch chain: plain HTTP, then headless Chrome, then the reader mirror.
	httpFetcher := fetch.NewHTTPFetcher(cfg.Fetch)
	var browser *fetch.BrowserFetcher
	var browserFetcher fetch.Fetcher
	if cfg.Fetch.UseBrowser {
		browser = fetch.NewBrowserFetcher(cfg.Fetch)
		browserFetcher = browser
	}
	fetcher := fetch.NewChain(cfg.Fetch, httpFetcher, browserFetcher, searcher.ReadPage)

	var classifier confidence.Classifier
	if cfg.Confidence.UseAIClassifier && cfg.Anthropic.Key != "" {
		classifier = confidence.NewAIClassifier(
			anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
		zap.L().Info("ai classifier enabled", zap.String("model", cfg.Anthropic.Model))
	}
	scorer := confidence.NewScorer(cfg.Confidence, classifier)

	strategies := strategy.NewService(st)
	cache := querycache.New(st)
	governor := budget.NewGovernor(st, cfg.Budget)
	tracker := runs.NewTracker(st)

	env := &pipelineEnv{
		Store:      st,
		Strategies: strategies,
		Cache:      cache,
		Governor:   governor,
		Searcher:   searcher,
		Registry:   registry,
		Matcher:    matcher,
		Tracker:    tracker,
		Feedback:   feedback.NewService(st),
		Discovery: discovery.NewOrchestrator(
			st, strategies, cache, governor, searcher, registry, matcher, tracker, cfg.Discovery),
		Extraction: extraction.NewRunner(
			st, registry, fetcher, matcher, scorer, tracker, governor, cfg.Extraction),
		browser: browser,
	}
	return env, nil
}
