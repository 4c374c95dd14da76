// Package fetch retrieves platform pages. The HTTP fetcher is the cheap
// default; the browser fetcher renders JS-heavy pages via headless Chrome.
// A blocked target is reported, never retried against the same fetcher.
package fetch

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Page is one fetched document.
type Page struct {
	URL       string
	Body      string
	Status    int
	Source    string
	FetchedAt time.Time
}

// Fetcher retrieves a single page. Implementations return a
// resilience.FetchError with Blocked set when the target served an anti-bot
// challenge instead of content.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, url string) (*Page, error)
}

// BlockType describes the kind of anti-bot block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// DetectBlock checks a response for signs of anti-bot protection: Cloudflare
// challenge headers and pages, captcha markers, and near-empty JS shells.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp != nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable) {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" {
			return true, BlockCloudflare
		}
		if resp.Header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		(strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge")) {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "captcha") ||
		strings.Contains(lower, "recaptcha") ||
		strings.Contains(lower, "hcaptcha") {
		return true, BlockCaptcha
	}

	// JS-only shell: very small body with noscript or meta refresh.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, `meta http-equiv="refresh"`) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}
