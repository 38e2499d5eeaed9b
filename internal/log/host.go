package log

import (
	"log/slog"
	"os"
	"runtime"
)

// HostInfo returns slog attributes describing the running host.
func HostInfo() []any {
	attrs := []any{
		slog.String("goos", runtime.GOOS),
		slog.String("goarch", runtime.GOARCH),
		slog.String("go_version", runtime.Version()),
		slog.Int("cpus", runtime.NumCPU()),
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, slog.String("hostname", hostname))
	}
	return append(attrs, platformAttrs()...)
}
