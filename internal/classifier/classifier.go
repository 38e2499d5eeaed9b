package classifier

import (
	"log/slog"
	"strings"

	"github.com/prerender/prerender-go/internal/common"
	"github.com/prerender/prerender-go/internal/rule"
)

type Reason string

const (
	ReasonBlacklisted     Reason = "blacklisted"
	ReasonWhitelisted     Reason = "whitelisted"
	ReasonEscapedFragment Reason = "escaped-fragment"
	ReasonNoUserAgent     Reason = "no-user-agent"
	ReasonNotCrawler      Reason = "not-crawler"
	ReasonResource        Reason = "resource"
	ReasonCrawler         Reason = "crawler"
)

type Decision struct {
	Prerender bool
	Reason    Reason
}

func (d Decision) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("prerender", d.Prerender),
		slog.String("reason", string(d.Reason)),
	)
}

// Classifier decides whether a request is served by the prerender service.
// It holds no state besides the RuleSet.
type Classifier struct {
	rules *rule.RuleSet
}

func New(rules *rule.RuleSet) *Classifier {
	return &Classifier{rules: rules}
}

// Classify evaluates the checks in order and returns at the first one that
// decides.
func (c *Classifier) Classify(md *common.Metadata) Decision {
	url := md.AbsoluteURL()

	if c.rules.IsBlacklisted(url, md.Referer()) {
		return Decision{false, ReasonBlacklisted}
	}
	if c.rules.IsWhitelisted(url) {
		return Decision{false, ReasonWhitelisted}
	}
	if md.HasQueryKey(common.EscapedFragmentKey) {
		return Decision{true, ReasonEscapedFragment}
	}

	ua := md.UserAgent()
	if strings.TrimSpace(ua) == "" {
		return Decision{false, ReasonNoUserAgent}
	}
	if !c.rules.IsCrawler(ua) {
		return Decision{false, ReasonNotCrawler}
	}
	if c.rules.IsResource(url) {
		return Decision{false, ReasonResource}
	}
	return Decision{true, ReasonCrawler}
}

func (c *Classifier) ShouldPrerender(md *common.Metadata) bool {
	return c.Classify(md).Prerender
}
