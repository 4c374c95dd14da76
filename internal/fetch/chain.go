package fetch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eatplanted/venuescout/internal/config"
	"github.com/eatplanted/venuescout/internal/resilience"
)

// ReaderFunc is the reader-mirror fallback: fetch a URL through a hosted
// reader API that returns page text. Wired from the jina client.
type ReaderFunc func(ctx context.Context, url string) (string, error)

// Chain escalates through fetchers: plain HTTP first, headless browser when
// blocked, reader mirror last. A URL that produced a bot challenge is
// remembered and never re-sent to the fetcher that was challenged.
type Chain struct {
	http    Fetcher
	browser Fetcher
	reader  ReaderFunc
	retry   resilience.RetryConfig

	mu      sync.Mutex
	blocked map[string]int // url -> index of first non-blocked tier
}

// NewChain builds the fetcher chain from config. browser may be nil when
// cfg.UseBrowser is false; reader may be nil when cfg.ReaderMirror is false.
func NewChain(cfg config.FetchConfig, httpF Fetcher, browser Fetcher, reader ReaderFunc) *Chain {
	c := &Chain{
		http:    httpF,
		blocked: make(map[string]int),
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.25,
			ShouldRetry:    resilience.IsTransient,
			OnRetry:        resilience.RetryLogger("fetch", "page"),
		},
	}
	if cfg.UseBrowser {
		c.browser = browser
	}
	if cfg.ReaderMirror {
		c.reader = reader
	}
	return c
}

func (c *Chain) Name() string { return "chain" }

type tier struct {
	name string
	run  func(ctx context.Context, url string) (*Page, error)
}

func (c *Chain) tiers() []tier {
	out := []tier{{c.http.Name(), c.http.Fetch}}
	if c.browser != nil {
		out = append(out, tier{c.browser.Name(), c.browser.Fetch})
	}
	if c.reader != nil {
		out = append(out, tier{"reader", func(ctx context.Context, url string) (*Page, error) {
			text, err := c.reader(ctx, url)
			if err != nil {
				return nil, &resilience.FetchError{URL: url, Err: err}
			}
			return &Page{URL: url, Body: text, Status: 200, Source: "reader", FetchedAt: time.Now().UTC()}, nil
		}})
	}
	return out
}

// Fetch tries each tier in order, starting past any tier that previously
// served this URL a bot challenge. Transient failures within a tier are
// retried with backoff; a block escalates immediately.
func (c *Chain) Fetch(ctx context.Context, url string) (*Page, error) {
	tiers := c.tiers()

	c.mu.Lock()
	start := c.blocked[url]
	c.mu.Unlock()

	var lastErr error
	for i := start; i < len(tiers); i++ {
		t := tiers[i]
		page, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Page, error) {
			return t.run(ctx, url)
		})
		if err == nil {
			return page, nil
		}
		lastErr = err

		if resilience.IsBlocked(err) {
			// Do not send this URL to this tier again.
			c.mu.Lock()
			if c.blocked[url] < i+1 {
				c.blocked[url] = i + 1
			}
			c.mu.Unlock()
			zap.L().Warn("fetch tier blocked, escalating",
				zap.String("url", url),
				zap.String("tier", t.name),
			)
			continue
		}
		// Non-block failure after retries: escalation will not help a 404
		// but does help rendering problems, so try the next tier anyway.
	}

	return nil, lastErr
}
