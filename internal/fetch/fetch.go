package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/prerender/prerender-go/internal/common"
	"github.com/prerender/prerender-go/internal/config"
	"golang.org/x/time/rate"
)

var ErrBodyTooLarge = errors.New("prerender response body too large")

// Result is what the prerender service answered, whatever the status.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       string
}

func (r *Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("status", r.StatusCode),
		slog.Int("body_size", len(r.Body)),
	)
}

// Client performs the single outbound GET for a prerendered request.
type Client struct {
	httpClient  *http.Client
	token       string
	limiter     *rate.Limiter
	maxBodySize int64
}

func New(cfg *config.PrerenderConfig, hc *config.HTTPClientConfig) (*Client, error) {
	transport, err := NewTransport(hc, &cfg.Proxy)
	if err != nil {
		return nil, err
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: transport,
			// The caller must see the service's own status, 3xx included.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		token:       cfg.Token,
		maxBodySize: cfg.MaxBodySize,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return c, nil
}

// Fetch returns an error only when no response was obtained or the response
// could not be read. Non-2xx responses are a normal Result.
func (c *Client) Fetch(ctx context.Context, targetURL string, md *common.Metadata) (*Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("limiter.Wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("http.NewRequest: %w", err)
	}
	// Set directly so an empty user agent is forwarded as empty.
	req.Header["User-Agent"] = []string{md.UserAgent()}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Content-Type", "text/html")
	req.Header.Set("Accept-Encoding", "gzip, br")
	if strings.TrimSpace(c.token) != "" {
		req.Header.Set("X-Prerender-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpClient.Do: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Debug("resp.Body.Close", slog.Any("error", cerr))
		}
	}()

	header := resp.Header.Clone()
	body, err := c.readBody(resp.Body, header)
	if err != nil {
		return nil, err
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       string(body),
	}, nil
}

// readBody decodes gzip and br bodies. Content-Encoding is dropped from
// header once the body is decoded, Content-Length always.
func (c *Client) readBody(r io.Reader, header http.Header) ([]byte, error) {
	header.Del("Content-Length")

	switch strings.ToLower(strings.TrimSpace(header.Get("Content-Encoding"))) {
	case "gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				header.Del("Content-Encoding")
				return nil, nil
			}
			return nil, fmt.Errorf("gzip.NewReader: %w", err)
		}
		defer zr.Close()
		r = zr
		header.Del("Content-Encoding")
	case "br":
		r = brotli.NewReader(r)
		header.Del("Content-Encoding")
	}

	return readLimited(r, c.maxBodySize)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if n > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return buf.Bytes(), nil
}
