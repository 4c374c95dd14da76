package fetch

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eatplanted/venuescout/internal/config"
	"github.com/eatplanted/venuescout/internal/resilience"
)

// stubFetcher scripts per-call outcomes and records how often it was hit.
type stubFetcher struct {
	name  string
	calls int
	fn    func(call int, url string) (*Page, error)
}

func (s *stubFetcher) Name() string { return s.name }

func (s *stubFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	s.calls++
	return s.fn(s.calls, url)
}

func okPage(source string) func(int, string) (*Page, error) {
	return func(_ int, url string) (*Page, error) {
		return &Page{URL: url, Body: "<html>menu</html>", Status: 200, Source: source}, nil
	}
}

func alwaysBlocked(_ int, url string) (*Page, error) {
	return nil, &resilience.FetchError{URL: url, Blocked: true, BlockType: "cloudflare", Status: 403}
}

func chainConfig() config.FetchConfig {
	return config.FetchConfig{UseBrowser: true, ReaderMirror: true}
}

func TestChain_FirstTierSuccess(t *testing.T) {
	httpF := &stubFetcher{name: "http", fn: okPage("http")}
	browser := &stubFetcher{name: "browser", fn: okPage("browser")}
	c := NewChain(chainConfig(), httpF, browser, nil)

	page, err := c.Fetch(context.Background(), "https://wolt.com/x")
	require.NoError(t, err)
	assert.Equal(t, "http", page.Source)
	assert.Equal(t, 1, httpF.calls)
	assert.Zero(t, browser.calls)
}

func TestChain_BlockedEscalatesToBrowser(t *testing.T) {
	httpF := &stubFetcher{name: "http", fn: alwaysBlocked}
	browser := &stubFetcher{name: "browser", fn: okPage("browser")}
	c := NewChain(chainConfig(), httpF, browser, nil)

	page, err := c.Fetch(context.Background(), "https://wolt.com/x")
	require.NoError(t, err)
	assert.Equal(t, "browser", page.Source)
	// A block escalates without retrying the challenged tier.
	assert.Equal(t, 1, httpF.calls)
}

func TestChain_RemembersBlockedTier(t *testing.T) {
	httpF := &stubFetcher{name: "http", fn: alwaysBlocked}
	browser := &stubFetcher{name: "browser", fn: okPage("browser")}
	c := NewChain(chainConfig(), httpF, browser, nil)

	_, err := c.Fetch(context.Background(), "https://wolt.com/x")
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "https://wolt.com/x")
	require.NoError(t, err)

	// The second fetch starts past the challenged tier.
	assert.Equal(t, 1, httpF.calls)
	assert.Equal(t, 2, browser.calls)
}

func TestChain_BlockMemoryIsPerURL(t *testing.T) {
	httpF := &stubFetcher{name: "http", fn: func(_ int, url string) (*Page, error) {
		if url == "https://wolt.com/blocked" {
			return alwaysBlocked(0, url)
		}
		return okPage("http")(0, url)
	}}
	browser := &stubFetcher{name: "browser", fn: okPage("browser")}
	c := NewChain(chainConfig(), httpF, browser, nil)

	_, err := c.Fetch(context.Background(), "https://wolt.com/blocked")
	require.NoError(t, err)

	page, err := c.Fetch(context.Background(), "https://wolt.com/open")
	require.NoError(t, err)
	assert.Equal(t, "http", page.Source)
}

func TestChain_ReaderIsLastResort(t *testing.T) {
	httpF := &stubFetcher{name: "http", fn: alwaysBlocked}
	browser := &stubFetcher{name: "browser", fn: alwaysBlocked}
	readerCalls := 0
	reader := func(ctx context.Context, url string) (string, error) {
		readerCalls++
		return "Green Garden planted.chicken Bowl", nil
	}
	c := NewChain(chainConfig(), httpF, browser, reader)

	page, err := c.Fetch(context.Background(), "https://wolt.com/x")
	require.NoError(t, err)
	assert.Equal(t, "reader", page.Source)
	assert.Equal(t, 200, page.Status)
	assert.Contains(t, page.Body, "planted.chicken")
	assert.Equal(t, 1, readerCalls)
}

func TestChain_TransientRetriedWithinTier(t *testing.T) {
	httpF := &stubFetcher{name: "http", fn: func(call int, url string) (*Page, error) {
		if call < 3 {
			return nil, resilience.NewTransientError(eris.New("status 503"), 503)
		}
		return okPage("http")(call, url)
	}}
	c := NewChain(config.FetchConfig{}, httpF, nil, nil)

	page, err := c.Fetch(context.Background(), "https://wolt.com/x")
	require.NoError(t, err)
	assert.Equal(t, "http", page.Source)
	assert.Equal(t, 3, httpF.calls)
}

func TestChain_PermanentFailureStillTriesNextTier(t *testing.T) {
	httpF := &stubFetcher{name: "http", fn: func(_ int, url string) (*Page, error) {
		return nil, &resilience.FetchError{URL: url, Err: eris.New("status 404"), Status: 404}
	}}
	browser := &stubFetcher{name: "browser", fn: okPage("browser")}
	c := NewChain(chainConfig(), httpF, browser, nil)

	page, err := c.Fetch(context.Background(), "https://wolt.com/x")
	require.NoError(t, err)
	assert.Equal(t, "browser", page.Source)
	assert.Equal(t, 1, httpF.calls)
}

func TestChain_AllTiersFail(t *testing.T) {
	httpF := &stubFetcher{name: "http", fn: alwaysBlocked}
	c := NewChain(config.FetchConfig{}, httpF, nil, nil)

	_, err := c.Fetch(context.Background(), "https://wolt.com/x")
	require.Error(t, err)
	assert.True(t, resilience.IsBlocked(err))
}
