// Package search wraps the external search API with rate limiting and a
// circuit breaker so a degraded backend degrades discovery instead of
// stalling or hammering it.
package search

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eatplanted/venuescout/internal/config"
	"github.com/eatplanted/venuescout/internal/resilience"
	"github.com/eatplanted/venuescout/pkg/jina"
)

// Service executes search queries against the configured backend.
type Service struct {
	client  jina.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	cfg     config.SearchConfig
}

// New creates a search Service from config.
func New(client jina.Client, cfg config.SearchConfig) *Service {
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}

	return &Service{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: failures,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("search breaker state change",
					zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}),
		cfg: cfg,
	}
}

// FreeTier reports whether queries are free of charge.
func (s *Service) FreeTier() bool { return s.cfg.UseFreeTier }

// Search runs one query through the limiter and breaker. Empty result sets
// are a valid outcome, not an error.
func (s *Service) Search(ctx context.Context, query, country string) ([]jina.SearchResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "search: rate limit wait")
	}

	resp, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*jina.SearchResponse, error) {
		var opts []jina.SearchOption
		if country != "" {
			opts = append(opts, jina.WithCountry(country))
		}
		return s.client.Search(ctx, query, opts...)
	})
	if err != nil {
		if eris.Is(err, resilience.ErrCircuitOpen) {
			zap.L().Warn("search circuit open, query dropped", zap.String("query", query))
		}
		return nil, eris.Wrap(err, "search: query")
	}

	return resp.Data, nil
}

// ReadPage fetches a URL through the reader mirror. Exposed as the last
// fetch tier for blocked targets.
func (s *Service) ReadPage(ctx context.Context, url string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "search: rate limit wait")
	}

	resp, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*jina.ReadResponse, error) {
		return s.client.Read(ctx, url)
	})
	if err != nil {
		return "", eris.Wrap(err, "search: read page")
	}
	return resp.Data.Content, nil
}
