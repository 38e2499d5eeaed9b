package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prerender/prerender-go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>spa</html>"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0644))
	return dir
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	return rec
}

func TestSPAHandler(t *testing.T) {
	h := SPAHandler(newRoot(t), "index.html")

	tests := []struct {
		name   string
		target string
		body   string
	}{
		{"root", "/", "<html>spa</html>"},
		{"asset", "/assets/app.js", "console.log(1)"},
		{"client route", "/products/42", "<html>spa</html>"},
		{"directory", "/assets/", "<html>spa</html>"},
		{"escape attempt", "/../../etc/passwd", "<html>spa</html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.target)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestSPAHandler_MissingIndex(t *testing.T) {
	h := SPAHandler(t.TempDir(), "index.html")
	assert.Equal(t, http.StatusNotFound, get(t, h, "/anything").Code)
}

func TestRouterAppliesPrerenderMiddleware(t *testing.T) {
	cfg := &config.Config{Root: newRoot(t), Index: "index.html"}
	prerender := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.UserAgent() == "bot" {
				_, _ = w.Write([]byte("prerendered"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	h := New(cfg, prerender).Router()

	req := httptest.NewRequest("GET", "/page", nil)
	req.Header.Set("User-Agent", "bot")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "prerendered", rec.Body.String())

	assert.Equal(t, "<html>spa</html>", get(t, h, "/page").Body.String())
}

func TestStartAndClose(t *testing.T) {
	cfg := &config.Config{BindAddress: "127.0.0.1", Port: 0, Root: newRoot(t), Index: "index.html"}
	s := New(cfg, nil)
	require.NoError(t, s.Start())
	defer func() { assert.NoError(t, s.Close()) }()

	resp, err := http.Get("http://" + s.Addr().String() + "/assets/app.js")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(body))
}
