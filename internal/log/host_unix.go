//go:build unix

package log

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// platformAttrs reports the kernel identity from uname(2).
func platformAttrs() []any {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return []any{slog.String("uname", err.Error())}
	}
	return []any{
		slog.String("kernel", unix.ByteSliceToString(uts.Sysname[:])),
		slog.String("release", unix.ByteSliceToString(uts.Release[:])),
		slog.String("machine", unix.ByteSliceToString(uts.Machine[:])),
	}
}
