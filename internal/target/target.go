package target

import (
	"strings"

	"github.com/prerender/prerender-go/internal/common"
)

// Builder turns an inbound request into the URL sent to the prerender
// service.
type Builder struct {
	serviceURL           string
	stripApplicationPath bool
}

func NewBuilder(serviceURL string, stripApplicationPath bool) *Builder {
	return &Builder{serviceURL: serviceURL, stripApplicationPath: stripApplicationPath}
}

func (b *Builder) Build(md *common.Metadata) string {
	url := md.Scheme() + "://" + md.Authority() + md.RawPathAndQuery()
	url = RemoveQueryKey(url, common.EscapedFragmentKey)

	// TLS terminated in front of us. Only the leading scheme is rewritten.
	if strings.EqualFold(md.ForwardedProto(), "https") {
		if rest, ok := strings.CutPrefix(url, "http://"); ok {
			url = "https://" + rest
		}
	}

	// Naive on purpose: the first occurrence anywhere in the URL is removed.
	if b.stripApplicationPath && md.ApplicationPath != "" && md.ApplicationPath != "/" {
		url = strings.Replace(url, md.ApplicationPath, "", 1)
	}

	return JoinServiceURL(b.serviceURL, url)
}

// RemoveQueryKey drops every pair whose key is exactly key, keeps the other
// pairs in order and drops a trailing "?" when nothing remains. Any
// "#fragment" is removed.
func RemoveQueryKey(url, key string) string {
	url, _, _ = strings.Cut(url, "#")
	base, query, ok := strings.Cut(url, "?")
	if !ok {
		return url
	}

	var kept []string
	for _, pair := range strings.Split(query, "&") {
		if pair == "" || common.QueryKey(pair) == key {
			continue
		}
		kept = append(kept, pair)
	}
	if len(kept) == 0 {
		return base
	}
	return base + "?" + strings.Join(kept, "&")
}

// JoinServiceURL appends url to serviceURL with exactly one "/" between them
// unless serviceURL already ends in "/".
func JoinServiceURL(serviceURL, url string) string {
	if strings.HasSuffix(serviceURL, "/") {
		return serviceURL + url
	}
	return serviceURL + "/" + url
}
