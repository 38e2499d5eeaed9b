package rule

// Lists holds the substring lists a RuleSet is built from.
type Lists struct {
	CrawlerAgents     []string
	IgnoredExtensions []string
}

var defaultCrawlerAgents = [...]string{
	"googlebot", "yahoo", "bingbot", "yandex", "baiduspider", "facebookexternalhit", "twitterbot", "rogerbot", "linkedinbot",
	"embedly", "quora link preview", "showyoubot", "outbrain", "pinterest/0.",
	"developers.google.com/+/web/snippet", "slackbot", "vkShare", "W3C_Validator",
	"redditbot", "Applebot", "WhatsApp", "flipboard", "tumblr", "bitlybot",
	"SkypeUriPreview", "nuzzel", "Discordbot", "Google Page Speed", "x-bufferbot",
}

var defaultIgnoredExtensions = [...]string{
	".js", ".css", ".less", ".png", ".jpg", ".jpeg",
	".gif", ".pdf", ".doc", ".txt", ".zip", ".mp3", ".rar", ".exe", ".wmv", ".doc", ".avi", ".ppt", ".mpg",
	".mpeg", ".tif", ".wav", ".mov", ".psd", ".ai", ".xls", ".mp4", ".m4a", ".swf", ".dat", ".dmg",
	".iso", ".flv", ".m4v", ".torrent", ".ico",
}

// DefaultLists returns a fresh copy of the built-in crawler agents and
// ignored extensions.
func DefaultLists() Lists {
	return Lists{
		CrawlerAgents:     append([]string(nil), defaultCrawlerAgents[:]...),
		IgnoredExtensions: append([]string(nil), defaultIgnoredExtensions[:]...),
	}
}
