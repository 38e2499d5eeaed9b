package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const DefaultServiceURL = "http://service.prerender.io/"

type LogFormat string

const (
	LogFormatText  LogFormat = "text"
	LogFormatJSON  LogFormat = "json"
	LogFormatColor LogFormat = "color"
)

type Config struct {
	BindAddress string `yaml:"bind-address" validate:"required,ip"`
	Port        int    `yaml:"port" validate:"min=1,max=65535"`
	Root        string `yaml:"root" validate:"required"`
	Index       string `yaml:"index" validate:"required"`

	LogLevel  string    `yaml:"log-level" validate:"oneof=debug info warn error"`
	LogFormat LogFormat `yaml:"log-format" validate:"oneof=text json color"`
	LogFile   bool      `yaml:"log-file"`

	APIServer       string `yaml:"api-server" validate:"omitempty,hostname_port"`
	APIServerSecret string `yaml:"api-server-secret"`
	StatsDump       bool   `yaml:"stats-dump"`

	Prerender  PrerenderConfig  `yaml:"prerender"`
	HTTPClient HTTPClientConfig `yaml:"http-client"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type PrerenderConfig struct {
	ServiceURL           string        `yaml:"service-url" validate:"required,url"`
	Token                string        `yaml:"token"`
	StripApplicationPath bool          `yaml:"strip-application-path"`
	ApplicationPath      string        `yaml:"application-path"`
	Whitelist            string        `yaml:"whitelist"`
	Blacklist            string        `yaml:"blacklist"`
	ExtensionsToIgnore   string        `yaml:"extensions-to-ignore"`
	CrawlerUserAgents    string        `yaml:"crawler-user-agents"`
	Proxy                ProxyConfig   `yaml:"proxy"`
	Timeout              time.Duration `yaml:"timeout"`
	RateLimit            float64       `yaml:"rate-limit" validate:"min=0"`
	RateBurst            int           `yaml:"rate-burst" validate:"min=1"`
	MaxBodySize          int64         `yaml:"max-body-size" validate:"min=1"`
}

type ProxyConfig struct {
	URL  string `yaml:"url"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

type HTTPClientConfig struct {
	DialTimeout           time.Duration `yaml:"dial-timeout"`
	DialKeepAlive         time.Duration `yaml:"dial-keep-alive"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls-handshake-timeout"`
	IdleConnTimeout       time.Duration `yaml:"idle-conn-timeout"`
	MaxIdleConns          int           `yaml:"max-idle-conns" validate:"min=0"`
	MaxIdleConnsPerHost   int           `yaml:"max-idle-conns-per-host" validate:"min=0"`
	TLSInsecureSkipVerify bool          `yaml:"tls-insecure-skip-verify"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	CollectorURL string `yaml:"collector-url" validate:"required_if=Enabled true"`
	ServiceName  string `yaml:"service-name"`
	Env          string `yaml:"env"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("bind-address", "127.0.0.1")
	v.SetDefault("port", 8080)
	v.SetDefault("root", "./public")
	v.SetDefault("index", "index.html")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	v.SetDefault("log-file", false)
	v.SetDefault("api-server", "")
	v.SetDefault("api-server-secret", "")
	v.SetDefault("stats-dump", false)

	v.SetDefault("prerender.service-url", DefaultServiceURL)
	v.SetDefault("prerender.token", "")
	v.SetDefault("prerender.strip-application-path", false)
	v.SetDefault("prerender.application-path", "/")
	v.SetDefault("prerender.whitelist", "")
	v.SetDefault("prerender.blacklist", "")
	v.SetDefault("prerender.extensions-to-ignore", "")
	v.SetDefault("prerender.crawler-user-agents", "")
	v.SetDefault("prerender.proxy.url", "")
	v.SetDefault("prerender.proxy.port", 80)
	v.SetDefault("prerender.timeout", 30*time.Second)
	v.SetDefault("prerender.rate-limit", 0)
	v.SetDefault("prerender.rate-burst", 1)
	v.SetDefault("prerender.max-body-size", 10<<20)

	v.SetDefault("http-client.dial-timeout", 10*time.Second)
	v.SetDefault("http-client.dial-keep-alive", 30*time.Second)
	v.SetDefault("http-client.tls-handshake-timeout", 10*time.Second)
	v.SetDefault("http-client.idle-conn-timeout", 90*time.Second)
	v.SetDefault("http-client.max-idle-conns", 100)
	v.SetDefault("http-client.max-idle-conns-per-host", 20)
	v.SetDefault("http-client.tls-insecure-skip-verify", false)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.collector-url", "")
	v.SetDefault("telemetry.service-name", "prerender-go")
	v.SetDefault("telemetry.env", "local")
}

// BuildConfigFromViper reads the global viper instance into a validated Config.
func BuildConfigFromViper() (*Config, error) {
	return BuildConfig(viper.GetViper())
}

func BuildConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})
	if err != nil {
		return nil, fmt.Errorf("viper.Unmarshal: %w", err)
	}

	cfg.normalize()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = LogFormat(strings.ToLower(strings.TrimSpace(string(c.LogFormat))))

	// Blank falls back to the default; anything else is used trimmed.
	c.Prerender.ServiceURL = strings.TrimSpace(c.Prerender.ServiceURL)
	if c.Prerender.ServiceURL == "" {
		c.Prerender.ServiceURL = DefaultServiceURL
	}
	c.Prerender.Proxy.URL = strings.TrimSpace(c.Prerender.Proxy.URL)
	if c.Prerender.Proxy.Port == 0 {
		c.Prerender.Proxy.Port = 80
	}
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// SplitList splits a comma-separated configuration value. The whole string is
// trimmed, entries are not. Empty entries are dropped.
func SplitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Redacted returns a copy safe to expose over the API.
func (c *Config) Redacted() Config {
	r := *c
	if r.Prerender.Token != "" {
		r.Prerender.Token = "******"
	}
	if r.APIServerSecret != "" {
		r.APIServerSecret = "******"
	}
	return r
}

func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("Log Level", c.LogLevel),
		slog.String("Log Format", string(c.LogFormat)),
		slog.String("Listen Address", c.ListenAddr()),
		slog.String("Root", c.Root),
		slog.String("Service URL", c.Prerender.ServiceURL),
		slog.Bool("Token", c.Prerender.Token != ""),
		slog.Bool("Strip Application Path", c.Prerender.StripApplicationPath),
		slog.String("Application Path", c.Prerender.ApplicationPath),
		slog.String("Whitelist", c.Prerender.Whitelist),
		slog.String("Blacklist", c.Prerender.Blacklist),
		slog.String("Proxy", c.Prerender.Proxy.URL),
		slog.Duration("Timeout", c.Prerender.Timeout),
		slog.Float64("Rate Limit", c.Prerender.RateLimit),
		slog.String("API Server", c.APIServer),
		slog.Bool("Telemetry", c.Telemetry.Enabled),
	)
}
