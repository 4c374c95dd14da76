package fetch

import (
	"context"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/eatplanted/venuescout/internal/config"
	"github.com/eatplanted/venuescout/internal/resilience"
)

// userAgents is a small rotation of current desktop browser strings. The
// fetcher picks one at random per request.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
}

// HTTPFetcher fetches pages via plain net/http with randomized per-request
// delays and user agent rotation. It is the cheap first attempt; blocked
// targets escalate to the browser fetcher or the reader mirror.
type HTTPFetcher struct {
	client *http.Client
	cfg    config.FetchConfig

	mu       sync.Mutex
	rng      *rand.Rand
	lastCall time.Time
}

// NewHTTPFetcher creates an HTTPFetcher from config.
func NewHTTPFetcher(cfg config.FetchConfig) *HTTPFetcher {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (f *HTTPFetcher) Name() string { return "http" }

// Fetch retrieves a page, pacing requests with a randomized delay in
// [MinDelayMs, MaxDelayMs] since the previous call.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	if err := f.pace(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", f.pickUA())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,de;q=0.6")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &resilience.FetchError{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	maxBody := int64(f.cfg.MaxBodyKB) * 1024
	if maxBody <= 0 {
		maxBody = 2 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &resilience.FetchError{URL: url, Err: err, Status: resp.StatusCode}
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, &resilience.FetchError{
			URL:       url,
			Blocked:   true,
			BlockType: string(blockType),
			Status:    resp.StatusCode,
		}
	}

	if resp.StatusCode >= 400 {
		fe := &resilience.FetchError{
			URL:    url,
			Err:    eris.Errorf("fetch: status %d", resp.StatusCode),
			Status: resp.StatusCode,
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(fe, resp.StatusCode)
		}
		return nil, fe
	}

	return &Page{
		URL:       url,
		Body:      string(body),
		Status:    resp.StatusCode,
		Source:    f.Name(),
		FetchedAt: time.Now().UTC(),
	}, nil
}

// pace sleeps a randomized interval since the last request, honoring ctx.
func (f *HTTPFetcher) pace(ctx context.Context) error {
	minD := time.Duration(f.cfg.MinDelayMs) * time.Millisecond
	maxD := time.Duration(f.cfg.MaxDelayMs) * time.Millisecond
	if maxD < minD {
		maxD = minD
	}

	f.mu.Lock()
	delay := minD
	if maxD > minD {
		delay = minD + time.Duration(f.rng.Int63n(int64(maxD-minD)))
	}
	wait := delay - time.Since(f.lastCall)
	f.lastCall = time.Now().Add(wait)
	f.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (f *HTTPFetcher) pickUA() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return userAgents[f.rng.Intn(len(userAgents))]
}
