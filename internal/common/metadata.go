package common

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const EscapedFragmentKey = "_escaped_fragment_"

// Metadata is a read-only view of an inbound request as the classifier and
// the target builder see it.
type Metadata struct {
	Request         *http.Request
	ApplicationPath string

	absoluteURL string
}

func NewMetadata(req *http.Request, applicationPath string) *Metadata {
	return &Metadata{Request: req, ApplicationPath: applicationPath}
}

// Scheme is https for TLS connections, otherwise the request URL's scheme,
// otherwise http.
func (m *Metadata) Scheme() string {
	if m.Request.TLS != nil {
		return "https"
	}
	if s := m.Request.URL.Scheme; s != "" {
		return strings.ToLower(s)
	}
	return "http"
}

func (m *Metadata) Authority() string {
	if m.Request.Host != "" {
		return m.Request.Host
	}
	return m.Request.URL.Host
}

// RawPathAndQuery returns the request target as received, without
// re-encoding. Absolute-form targets are reduced to path and query.
func (m *Metadata) RawPathAndQuery() string {
	raw := m.Request.RequestURI
	if strings.HasPrefix(raw, "/") {
		return raw
	}
	return m.Request.URL.RequestURI()
}

func (m *Metadata) AbsoluteURL() string {
	if m.absoluteURL == "" {
		m.absoluteURL = m.Scheme() + "://" + m.Authority() + m.RawPathAndQuery()
	}
	return m.absoluteURL
}

func (m *Metadata) UserAgent() string {
	return m.Request.UserAgent()
}

func (m *Metadata) Referer() string {
	return m.Request.Referer()
}

func (m *Metadata) ForwardedProto() string {
	return m.Request.Header.Get("X-Forwarded-Proto")
}

func (m *Metadata) SrcAddr() string {
	return m.Request.RemoteAddr
}

// HasQueryKey reports whether the query string carries key, with or
// without a value.
func (m *Metadata) HasQueryKey(key string) bool {
	for _, pair := range strings.Split(m.Request.URL.RawQuery, "&") {
		if QueryKey(pair) == key {
			return true
		}
	}
	return false
}

// QueryKey returns the decoded key of a single "k=v" query pair.
func QueryKey(pair string) string {
	k, _, _ := strings.Cut(pair, "=")
	if unescaped, err := url.QueryUnescape(k); err == nil {
		return unescaped
	}
	return k
}

func (m *Metadata) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("src_addr", m.SrcAddr()),
		slog.String("url", m.AbsoluteURL()),
		slog.String("user_agent", m.UserAgent()),
	)
}
