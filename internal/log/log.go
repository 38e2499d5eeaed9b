package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prerender/prerender-go/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeFormat = "2006-01-02 15:04:05"

// Options selects the handler and sinks for the default logger.
type Options struct {
	Level       string
	Format      config.LogFormat
	File        bool
	Broadcaster *Broadcaster
}

// SetLogConf installs the default slog logger. Output goes to stdout and,
// when enabled, to a rotating log file and the broadcaster.
func SetLogConf(opts Options) {
	writers := []io.Writer{os.Stdout}
	if opts.File {
		writers = append(writers, &lumberjack.Logger{
			Filename:   GetLogFilePath(),
			MaxSize:    5, // megabytes
			MaxBackups: 5,
			MaxAge:     7, // days
			LocalTime:  true,
			Compress:   true,
		})
	}
	if opts.Broadcaster != nil {
		writers = append(writers, opts.Broadcaster)
	}
	slog.SetDefault(slog.New(NewHandler(io.MultiWriter(writers...), opts.Level, opts.Format)))
}

// NewHandler builds the slog handler for format writing to w.
func NewHandler(w io.Writer, level string, format config.LogFormat) slog.Handler {
	logLevel := ParseLevel(level)

	switch format {
	case config.LogFormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	case config.LogFormatColor:
		return tint.NewHandler(w, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.Kitchen,
		})
	default:
		loc := LoadLocalLocation()
		return slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: logLevel,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					t := a.Value.Time().In(loc)
					return slog.String(slog.TimeKey, t.Format(timeFormat))
				}
				return a
			},
		})
	}
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func LogHeader(version string, cfg *config.Config) {
	slog.Info("prerender started", "version", version, "", cfg)
	slog.Info("host info", HostInfo()...)
}

// LoadLocalLocation tries to detect and load the system local timezone from
// `/etc/localtime` or `/etc/TZ`.
func LoadLocalLocation() *time.Location {
	if _, err := os.Stat("/etc/localtime"); err == nil {
		if loc, _ := time.LoadLocation("Local"); loc != nil {
			return loc
		}
	}
	if data, err := os.ReadFile("/etc/TZ"); err == nil {
		tz := strings.TrimSpace(string(data))
		if strings.HasPrefix(tz, "UTC") {
			return time.UTC
		}
	}
	return time.UTC
}
