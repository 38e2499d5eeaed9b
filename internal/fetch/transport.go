package fetch

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/prerender/prerender-go/internal/config"
	"golang.org/x/net/proxy"
)

// NewTransport builds the outbound transport from the http-client settings,
// routed through the configured proxy if any.
func NewTransport(hc *config.HTTPClientConfig, px *config.ProxyConfig) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   hc.DialTimeout,
		KeepAlive: hc.DialKeepAlive,
	}
	transport := &http.Transport{
		MaxIdleConns:        hc.MaxIdleConns,
		MaxIdleConnsPerHost: hc.MaxIdleConnsPerHost,
		IdleConnTimeout:     hc.IdleConnTimeout,
		TLSHandshakeTimeout: hc.TLSHandshakeTimeout,
		DialContext:         dialer.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: hc.TLSInsecureSkipVerify,
		},
		ForceAttemptHTTP2: true,
	}

	proxyURL, err := ParseProxyURL(px)
	if err != nil {
		return nil, err
	}
	if proxyURL == nil {
		return transport, nil
	}

	switch proxyURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if proxyURL.User != nil {
			password, _ := proxyURL.User.Password()
			auth = &proxy.Auth{User: proxyURL.User.Username(), Password: password}
		}
		socks, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("proxy.SOCKS5: %w", err)
		}
		cd, ok := socks.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer for %s does not support contexts", proxyURL.Host)
		}
		transport.DialContext = cd.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}
	return transport, nil
}

// ParseProxyURL returns nil when no proxy is configured. A bare host is
// treated as an http proxy and the configured port fills in a missing one.
func ParseProxyURL(px *config.ProxyConfig) (*url.URL, error) {
	raw := strings.TrimSpace(px.URL)
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url %q: %w", px.URL, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid proxy url %q: missing host", px.URL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Port() == "" {
		port := px.Port
		if port == 0 {
			port = 80
		}
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	}
	return u, nil
}
