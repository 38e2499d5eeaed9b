package rule

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/prerender/prerender-go/internal/config"
)

var ErrInvalidPattern = errors.New("invalid pattern")

// MatchTimeout bounds a single blacklist or whitelist evaluation.
const MatchTimeout = 100 * time.Millisecond

// RuleSet is built once at startup and only read afterwards, so it can be
// shared by concurrent requests without locking.
type RuleSet struct {
	crawlerAgents     []string
	ignoredExtensions []string
	blacklist         []*regexp2.Regexp
	whitelist         []*regexp2.Regexp
}

// New builds a RuleSet from the built-in lists and the configured additions.
func New(cfg *config.PrerenderConfig) (*RuleSet, error) {
	return Build(DefaultLists(), cfg)
}

func Build(defaults Lists, cfg *config.PrerenderConfig) (*RuleSet, error) {
	// SplitList drops empty entries. Kept, an empty regex would blacklist
	// every URL and an empty substring would match every agent and path.
	blacklist, err := compileAll("blacklist", config.SplitList(cfg.Blacklist))
	if err != nil {
		return nil, err
	}
	whitelist, err := compileAll("whitelist", config.SplitList(cfg.Whitelist))
	if err != nil {
		return nil, err
	}

	return &RuleSet{
		crawlerAgents:     mergeLower(defaults.CrawlerAgents, config.SplitList(cfg.CrawlerUserAgents)),
		ignoredExtensions: mergeLower(defaults.IgnoredExtensions, config.SplitList(cfg.ExtensionsToIgnore)),
		blacklist:         blacklist,
		whitelist:         whitelist,
	}, nil
}

func compileAll(list string, patterns []string) ([]*regexp2.Regexp, error) {
	out := make([]*regexp2.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp2.Compile(pattern, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidPattern, list, pattern, err)
		}
		re.MatchTimeout = MatchTimeout
		out = append(out, re)
	}
	return out, nil
}

// mergeLower lower-cases every entry and drops duplicates, keeping the
// first-seen order.
func mergeLower(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			s = strings.ToLower(s)
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// IsBlacklisted reports whether url, or a non-blank referer, contains a match
// of any blacklist pattern.
func (rs *RuleSet) IsBlacklisted(url, referer string) bool {
	checkReferer := strings.TrimSpace(referer) != ""
	for _, re := range rs.blacklist {
		if matchString(re, url) || (checkReferer && matchString(re, referer)) {
			return true
		}
	}
	return false
}

func (rs *RuleSet) IsWhitelisted(url string) bool {
	for _, re := range rs.whitelist {
		if matchString(re, url) {
			return true
		}
	}
	return false
}

// IsCrawler reports whether userAgent contains any crawler substring,
// ignoring case.
func (rs *RuleSet) IsCrawler(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, agent := range rs.crawlerAgents {
		if strings.Contains(ua, agent) {
			return true
		}
	}
	return false
}

// IsResource reports whether url contains any ignored extension anywhere,
// ignoring case. A path like /app.jsx matches ".js".
func (rs *RuleSet) IsResource(url string) bool {
	lower := strings.ToLower(url)
	for _, ext := range rs.ignoredExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

// matchString treats a match error, such as a timeout, as no match.
func matchString(re *regexp2.Regexp, s string) bool {
	matched, err := re.MatchString(s)
	if err != nil {
		slog.Warn("regexp2.MatchString", slog.String("regex", re.String()), slog.Any("error", err))
		return false
	}
	return matched
}

func (rs *RuleSet) CrawlerAgents() []string {
	return append([]string(nil), rs.crawlerAgents...)
}

func (rs *RuleSet) IgnoredExtensions() []string {
	return append([]string(nil), rs.ignoredExtensions...)
}

func (rs *RuleSet) Blacklist() []string {
	return patternStrings(rs.blacklist)
}

func (rs *RuleSet) Whitelist() []string {
	return patternStrings(rs.whitelist)
}

func patternStrings(res []*regexp2.Regexp) []string {
	out := make([]string, 0, len(res))
	for _, re := range res {
		out = append(out, re.String())
	}
	return out
}

func (rs *RuleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"crawler_agents":     rs.crawlerAgents,
		"ignored_extensions": rs.ignoredExtensions,
		"blacklist":          rs.Blacklist(),
		"whitelist":          rs.Whitelist(),
	})
}

func (rs *RuleSet) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("crawler_agents", len(rs.crawlerAgents)),
		slog.Int("ignored_extensions", len(rs.ignoredExtensions)),
		slog.Any("blacklist", rs.Blacklist()),
		slog.Any("whitelist", rs.Whitelist()),
	)
}
