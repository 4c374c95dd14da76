package fetch

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func respWith(status int, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Header: h}
}

func TestDetectBlock_CloudflareHeaders(t *testing.T) {
	blocked, bt := DetectBlock(respWith(403, map[string]string{"cf-ray": "8a1b2c3d"}), []byte("<html></html>"))
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, bt)

	blocked, bt = DetectBlock(respWith(503, map[string]string{"server": "cloudflare"}), nil)
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, bt)

	// cf headers on a 200 are just CDN traffic, not a challenge.
	blocked, _ = DetectBlock(respWith(200, map[string]string{"cf-ray": "8a1b2c3d"}), []byte("<html>menu</html>"))
	assert.False(t, blocked)
}

func TestDetectBlock_ChallengePageBody(t *testing.T) {
	blocked, bt := DetectBlock(nil, []byte("<html>Checking your browser before accessing wolt.com</html>"))
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, bt)

	blocked, bt = DetectBlock(nil, []byte(`<div id="cf-browser-verification"></div>`))
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, bt)
}

func TestDetectBlock_Captcha(t *testing.T) {
	blocked, bt := DetectBlock(nil, []byte(`<script src="https://www.google.com/recaptcha/api.js"></script>`))
	assert.True(t, blocked)
	assert.Equal(t, BlockCaptcha, bt)

	blocked, bt = DetectBlock(nil, []byte("please solve the hCaptcha to continue"))
	assert.True(t, blocked)
	assert.Equal(t, BlockCaptcha, bt)
}

func TestDetectBlock_JSShell(t *testing.T) {
	blocked, bt := DetectBlock(nil, []byte(`<html><noscript>Please enable JavaScript</noscript></html>`))
	assert.True(t, blocked)
	assert.Equal(t, BlockJSShell, bt)

	blocked, bt = DetectBlock(nil, []byte(`<html><meta http-equiv="refresh" content="0"></html>`))
	assert.True(t, blocked)
	assert.Equal(t, BlockJSShell, bt)
}

func TestDetectBlock_LargeNoscriptPageNotAShell(t *testing.T) {
	body := `<html><noscript>Please enable JavaScript for the map</noscript>` +
		strings.Repeat("<div>menu item</div>", 200) + "</html>"

	blocked, _ := DetectBlock(nil, []byte(body))
	assert.False(t, blocked)
}

func TestDetectBlock_CleanPage(t *testing.T) {
	blocked, bt := DetectBlock(respWith(200, nil), []byte("<html><h1>Green Garden</h1><div>planted.chicken Bowl</div></html>"))
	assert.False(t, blocked)
	assert.Equal(t, BlockNone, bt)
}
