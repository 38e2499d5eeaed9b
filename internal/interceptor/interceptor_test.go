package interceptor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prerender/prerender-go/internal/common"
	"github.com/prerender/prerender-go/internal/config"
	"github.com/prerender/prerender-go/internal/fetch"
	"github.com/prerender/prerender-go/internal/rule"
	"github.com/prerender/prerender-go/internal/statistics"
	"github.com/prerender/prerender-go/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const googlebot = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"

type fetcherFunc func(ctx context.Context, targetURL string, md *common.Metadata) (*fetch.Result, error)

func (f fetcherFunc) Fetch(ctx context.Context, targetURL string, md *common.Metadata) (*fetch.Result, error) {
	return f(ctx, targetURL, md)
}

var nextHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Origin", "app")
	_, _ = w.Write([]byte("app page"))
})

func newInterceptor(t *testing.T, serviceURL string, client Fetcher, recorder *statistics.Recorder, cfg config.PrerenderConfig) *Interceptor {
	t.Helper()
	if cfg.ApplicationPath == "" {
		cfg.ApplicationPath = "/"
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 1 << 20
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	rs, err := rule.New(&cfg)
	require.NoError(t, err)
	if client == nil {
		c, err := fetch.New(&cfg, &config.HTTPClientConfig{})
		require.NoError(t, err)
		client = c
	}
	return New(rs, target.NewBuilder(serviceURL, cfg.StripApplicationPath), client, recorder, nil, &cfg)
}

func serve(h http.Handler, target, ua string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCrawlerGetsPrerenderedResponse(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>prerendered</html>"))
	}))
	defer upstream.Close()

	h := newInterceptor(t, upstream.URL, nil, nil, config.PrerenderConfig{}).Handler(nextHandler)
	rec := serve(h, "http://example.com/page", googlebot)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>prerendered</html>", rec.Body.String())
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("X-Origin"), "next handler must not run")
	assert.Equal(t, "/http://example.com/page", gotPath)
}

func TestNotFoundRelayedVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing page"))
	}))
	defer upstream.Close()

	h := newInterceptor(t, upstream.URL, nil, nil, config.PrerenderConfig{}).Handler(nextHandler)
	rec := serve(h, "http://example.com/gone", googlebot)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "missing page", rec.Body.String())
}

func TestRedirectRelayed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://example.com/new")
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer upstream.Close()

	h := newInterceptor(t, upstream.URL, nil, nil, config.PrerenderConfig{}).Handler(nextHandler)
	rec := serve(h, "http://example.com/old", googlebot)

	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "https://example.com/new", rec.Header().Get("Location"))
}

func TestRepeatedHeadersNotCollapsed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
	}))
	defer upstream.Close()

	h := newInterceptor(t, upstream.URL, nil, nil, config.PrerenderConfig{}).Handler(nextHandler)
	rec := serve(h, "http://example.com/page", googlebot)

	assert.Equal(t, []string{"a=1", "b=2"}, rec.Result().Header.Values("Set-Cookie"))
}

func TestHumanPassesThrough(t *testing.T) {
	called := false
	client := fetcherFunc(func(context.Context, string, *common.Metadata) (*fetch.Result, error) {
		called = true
		return nil, nil
	})

	h := newInterceptor(t, "http://unused", client, nil, config.PrerenderConfig{}).Handler(nextHandler)
	rec := serve(h, "http://example.com/page", "Mozilla/5.0 Chrome/120.0")

	assert.False(t, called)
	assert.Equal(t, "app page", rec.Body.String())
	assert.Equal(t, "app", rec.Header().Get("X-Origin"))
}

func TestUnreachableServiceFailsOpen(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	h := newInterceptor(t, url, nil, nil, config.PrerenderConfig{}).Handler(nextHandler)
	rec := serve(h, "http://example.com/page", googlebot)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "app page", rec.Body.String())
}

func TestTimeoutFailsOpen(t *testing.T) {
	client := fetcherFunc(func(ctx context.Context, _ string, _ *common.Metadata) (*fetch.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	h := newInterceptor(t, "http://unused", client, nil, config.PrerenderConfig{Timeout: 20 * time.Millisecond}).Handler(nextHandler)
	rec := serve(h, "http://example.com/page", googlebot)

	assert.Equal(t, "app page", rec.Body.String())
}

func TestPanicFailsOpen(t *testing.T) {
	client := fetcherFunc(func(context.Context, string, *common.Metadata) (*fetch.Result, error) {
		panic("boom")
	})

	h := newInterceptor(t, "http://unused", client, nil, config.PrerenderConfig{}).Handler(nextHandler)

	var rec *httptest.ResponseRecorder
	assert.NotPanics(t, func() {
		rec = serve(h, "http://example.com/page", googlebot)
	})
	assert.Equal(t, "app page", rec.Body.String())
}

func TestHopByHopHeadersSkipped(t *testing.T) {
	client := fetcherFunc(func(context.Context, string, *common.Metadata) (*fetch.Result, error) {
		return &fetch.Result{
			StatusCode: http.StatusOK,
			Header: http.Header{
				"Connection":        {"keep-alive"},
				"Keep-Alive":        {"timeout=5"},
				"Transfer-Encoding": {"chunked"},
				"X-Rendered-By":     {"prerender"},
			},
			Body: "ok",
		}, nil
	})

	h := newInterceptor(t, "http://unused", client, nil, config.PrerenderConfig{}).Handler(nextHandler)
	rec := serve(h, "http://example.com/page", googlebot)

	assert.Equal(t, "prerender", rec.Header().Get("X-Rendered-By"))
	assert.Empty(t, rec.Header().Get("Connection"))
	assert.Empty(t, rec.Header().Get("Keep-Alive"))
	assert.Empty(t, rec.Header().Get("Transfer-Encoding"))
}

func TestConnectionListedHeadersSkipped(t *testing.T) {
	client := fetcherFunc(func(context.Context, string, *common.Metadata) (*fetch.Result, error) {
		return &fetch.Result{
			StatusCode: http.StatusOK,
			Header: http.Header{
				"Connection":     {"close, X-Upstream-Hop", "x-other-hop"},
				"X-Upstream-Hop": {"1"},
				"X-Other-Hop":    {"2"},
				"X-Rendered-By":  {"prerender"},
			},
			Body: "ok",
		}, nil
	})

	h := newInterceptor(t, "http://unused", client, nil, config.PrerenderConfig{}).Handler(nextHandler)
	rec := serve(h, "http://example.com/page", googlebot)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "prerender", rec.Header().Get("X-Rendered-By"))
	assert.Empty(t, rec.Header().Values("X-Upstream-Hop"))
	assert.Empty(t, rec.Header().Values("X-Other-Hop"))
	assert.Empty(t, rec.Header().Values("Connection"))
}

func TestTargetURLPassedToClient(t *testing.T) {
	var got string
	client := fetcherFunc(func(_ context.Context, targetURL string, _ *common.Metadata) (*fetch.Result, error) {
		got = targetURL
		return &fetch.Result{StatusCode: http.StatusOK, Header: http.Header{}}, nil
	})

	h := newInterceptor(t, "http://render.local/", client, nil, config.PrerenderConfig{}).Handler(nextHandler)

	req := httptest.NewRequest("GET", "http://example.com/path?_escaped_fragment_=/foo&x=1", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "http://render.local/https://example.com/path?x=1", got)
}

func TestIntercept(t *testing.T) {
	client := fetcherFunc(func(context.Context, string, *common.Metadata) (*fetch.Result, error) {
		return &fetch.Result{StatusCode: http.StatusOK, Header: http.Header{}, Body: "rendered"}, nil
	})
	i := newInterceptor(t, "http://unused", client, nil, config.PrerenderConfig{Blacklist: "/admin"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "http://example.com/admin", nil)
	req.Header.Set("User-Agent", googlebot)
	assert.False(t, i.Intercept(rec, req))
	assert.Zero(t, rec.Body.Len())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "http://example.com/page", nil)
	req.Header.Set("User-Agent", googlebot)
	assert.True(t, i.Intercept(rec, req))
	assert.Equal(t, "rendered", rec.Body.String())
}

func TestWorksAsChiMiddleware(t *testing.T) {
	client := fetcherFunc(func(context.Context, string, *common.Metadata) (*fetch.Result, error) {
		return &fetch.Result{StatusCode: http.StatusOK, Header: http.Header{}, Body: "rendered"}, nil
	})
	i := newInterceptor(t, "http://unused", client, nil, config.PrerenderConfig{})

	r := chi.NewRouter()
	r.Use(i.Handler)
	r.Get("/*", nextHandler)

	assert.Equal(t, "rendered", serve(r, "http://example.com/page", googlebot).Body.String())
	assert.Equal(t, "app page", serve(r, "http://example.com/page", "curl/8.0").Body.String())
}

func TestStatisticsRecorded(t *testing.T) {
	client := fetcherFunc(func(context.Context, string, *common.Metadata) (*fetch.Result, error) {
		return &fetch.Result{StatusCode: http.StatusOK, Header: http.Header{}, Body: "rendered"}, nil
	})
	recorder := statistics.New("")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recorder.Run(ctx)

	h := newInterceptor(t, "http://unused", client, recorder, config.PrerenderConfig{}).Handler(nextHandler)
	serve(h, "http://example.com/page", googlebot)
	serve(h, "http://example.com/page", "Mozilla/5.0 Chrome/120.0")

	assert.Eventually(t, func() bool {
		s := recorder.Snapshot()
		return len(s.Prerendered) == 1 &&
			len(s.PassedThrough) == 1 &&
			len(s.CrawlerAgents) == 1 &&
			len(s.InFlight) == 0
	}, time.Second, 10*time.Millisecond)

	s := recorder.Snapshot()
	assert.Equal(t, "example.com", s.Prerendered[0].Host)
	assert.Equal(t, "not-crawler", s.PassedThrough[0].Reason)
	assert.Equal(t, googlebot, s.CrawlerAgents[0].UserAgent)
}
