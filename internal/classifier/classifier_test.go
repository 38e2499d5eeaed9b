package classifier

import (
	"net/http/httptest"
	"testing"

	"github.com/prerender/prerender-go/internal/common"
	"github.com/prerender/prerender-go/internal/config"
	"github.com/prerender/prerender-go/internal/rule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	googlebot = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	chrome    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"
)

func newClassifier(t *testing.T, cfg config.PrerenderConfig) *Classifier {
	t.Helper()
	rs, err := rule.New(&cfg)
	require.NoError(t, err)
	return New(rs)
}

func metadata(target, ua, referer string) *common.Metadata {
	req := httptest.NewRequest("GET", target, nil)
	req.Header.Del("User-Agent")
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	return common.NewMetadata(req, "/")
}

func TestClassify(t *testing.T) {
	c := newClassifier(t, config.PrerenderConfig{
		Blacklist: `/admin,^http://blocked\.example`,
		Whitelist: `/static-page`,
	})

	tests := []struct {
		name    string
		target  string
		ua      string
		referer string
		want    Decision
	}{
		{"crawler page", "http://example.com/page", googlebot, "", Decision{true, ReasonCrawler}},
		{"crawler resource", "http://example.com/app.js", "googlebot", "", Decision{false, ReasonResource}},
		{"human", "http://example.com/page", chrome, "", Decision{false, ReasonNotCrawler}},
		{"no user agent", "http://example.com/page", "", "", Decision{false, ReasonNoUserAgent}},
		{"blank user agent", "http://example.com/page", "   ", "", Decision{false, ReasonNoUserAgent}},
		{"escaped fragment without user agent", "http://example.com/page?_escaped_fragment_=", "", "", Decision{true, ReasonEscapedFragment}},
		{"escaped fragment on resource", "http://example.com/app.js?_escaped_fragment_=", chrome, "", Decision{true, ReasonEscapedFragment}},
		{"blacklisted url", "http://example.com/admin", googlebot, "", Decision{false, ReasonBlacklisted}},
		{"blacklisted referer", "http://example.com/page", googlebot, "http://blocked.example/x", Decision{false, ReasonBlacklisted}},
		{"blacklist beats escaped fragment", "http://example.com/admin?_escaped_fragment_=", googlebot, "", Decision{false, ReasonBlacklisted}},
		{"whitelisted", "http://example.com/static-page", googlebot, "", Decision{false, ReasonWhitelisted}},
		{"whitelist beats escaped fragment", "http://example.com/static-page?_escaped_fragment_=", "", "", Decision{false, ReasonWhitelisted}},
		{"blacklist beats whitelist", "http://example.com/admin/static-page", googlebot, "", Decision{false, ReasonBlacklisted}},
		{"similar key is not escaped fragment", "http://example.com/page?_escaped_fragment_x=1", "", "", Decision{false, ReasonNoUserAgent}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := metadata(tt.target, tt.ua, tt.referer)
			got := c.Classify(md)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Prerender, c.ShouldPrerender(md))
		})
	}
}

func TestBlacklistWinsForAnyUserAgent(t *testing.T) {
	c := newClassifier(t, config.PrerenderConfig{Blacklist: "/private"})

	for _, ua := range []string{"", googlebot, chrome, "slackbot", "facebookexternalhit/1.1"} {
		for _, target := range []string{
			"http://example.com/private",
			"http://example.com/private?_escaped_fragment_=",
		} {
			assert.False(t, c.ShouldPrerender(metadata(target, ua, "")), "%s %q", target, ua)
		}
	}
}

func TestWhitelistWinsForAnyUserAgent(t *testing.T) {
	c := newClassifier(t, config.PrerenderConfig{Whitelist: "/open"})

	for _, ua := range []string{"", googlebot, chrome} {
		assert.False(t, c.ShouldPrerender(metadata("http://example.com/open", ua, "")), ua)
		assert.False(t, c.ShouldPrerender(metadata("http://example.com/open?_escaped_fragment_=", ua, "")), ua)
	}
}

// Extension matching is plain substring containment, so a ".jsx" page is
// treated as a ".js" resource.
func TestExtensionOverMatch(t *testing.T) {
	c := newClassifier(t, config.PrerenderConfig{})

	got := c.Classify(metadata("http://example.com/component.jsx", googlebot, ""))
	assert.Equal(t, Decision{false, ReasonResource}, got)

	got = c.Classify(metadata("http://example.com/page?file=report.pdf", googlebot, ""))
	assert.Equal(t, Decision{false, ReasonResource}, got)
}

func TestConfiguredCrawlerAgent(t *testing.T) {
	c := newClassifier(t, config.PrerenderConfig{CrawlerUserAgents: "InternalPreview"})

	assert.True(t, c.ShouldPrerender(metadata("http://example.com/", "internalpreview/3.0", "")))
	assert.False(t, c.ShouldPrerender(metadata("http://example.com/", "otherpreview/3.0", "")))
}

func TestConfiguredExtension(t *testing.T) {
	c := newClassifier(t, config.PrerenderConfig{ExtensionsToIgnore: ".WEBP"})

	assert.False(t, c.ShouldPrerender(metadata("http://example.com/hero.webp", googlebot, "")))
}
