package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/eatplanted/venuescout/internal/config"
	"github.com/eatplanted/venuescout/internal/resilience"
)

// BrowserFetcher renders pages in headless Chrome with stealth patches
// applied. Used for targets that serve JS shells or challenge plain HTTP
// clients. Lazily connects on first use.
type BrowserFetcher struct {
	cfg config.FetchConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewBrowserFetcher creates a BrowserFetcher. When cfg.BrowserURL is set it
// connects to that remote Chrome; otherwise it launches a local one.
func NewBrowserFetcher(cfg config.FetchConfig) *BrowserFetcher {
	return &BrowserFetcher{cfg: cfg}
}

func (f *BrowserFetcher) Name() string { return "browser" }

// connect establishes the browser handle, launching Chrome when no remote
// URL is configured.
func (f *BrowserFetcher) connect() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return f.browser, nil
	}

	wsURL := f.cfg.BrowserURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, eris.Wrap(err, "fetch: launch chrome")
		}
		wsURL = u
		f.lnch = l
		zap.L().Info("launched local chrome", zap.String("url", wsURL))
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, eris.Wrap(err, "fetch: connect chrome")
	}
	f.browser = b
	return b, nil
}

// Fetch renders the page and returns the serialized DOM. Block detection
// runs on the rendered HTML: a challenge that survives rendering means the
// target is hard-blocked and must not be retried.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	b, err := f.connect()
	if err != nil {
		return nil, &resilience.FetchError{URL: url, Err: err}
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, &resilience.FetchError{URL: url, Err: eris.Wrap(err, "fetch: create tab")}
	}
	defer func() { _ = page.Close() }()

	timeout := time.Duration(f.cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		return nil, &resilience.FetchError{URL: url, Err: eris.Wrapf(err, "fetch: navigate %s", url)}
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		// Partial loads still often carry the menu; log and keep going.
		zap.L().Warn("browser wait load timeout", zap.String("url", url), zap.Error(err))
	}

	res, err := page.Context(navCtx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, &resilience.FetchError{URL: url, Err: eris.Wrap(err, "fetch: serialize dom")}
	}
	body := res.Value.Str()

	if blocked, blockType := DetectBlock(nil, []byte(body)); blocked {
		return nil, &resilience.FetchError{
			URL:       url,
			Blocked:   true,
			BlockType: string(blockType),
		}
	}

	return &Page{
		URL:       url,
		Body:      body,
		Status:    200,
		Source:    f.Name(),
		FetchedAt: time.Now().UTC(),
	}, nil
}

// Close shuts down the browser and any locally launched Chrome.
func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		if err := f.browser.Close(); err != nil {
			zap.L().Warn("browser close", zap.Error(err))
		}
		f.browser = nil
	}
	if f.lnch != nil {
		f.lnch.Cleanup()
		f.lnch = nil
	}
	return nil
}
