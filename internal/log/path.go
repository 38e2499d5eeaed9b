package log

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const appDir = "prerender"

var (
	logDir     string
	logDirOnce sync.Once
)

// GetLogDir returns the directory for log and stats files, creating it on
// first use. PRERENDER_LOG_DIR overrides the search; otherwise the first
// writable of /var/log/prerender (Linux only), ~/.prerender and the temp
// directory wins.
func GetLogDir() string {
	logDirOnce.Do(func() {
		logDir = determineLogDir()
	})
	return logDir
}

func determineLogDir() string {
	if dir := os.Getenv("PRERENDER_LOG_DIR"); dir != "" {
		return dir
	}
	for _, dir := range candidateLogDirs() {
		if writable(dir) {
			return dir
		}
	}
	return filepath.Join(os.TempDir(), appDir)
}

func candidateLogDirs() []string {
	var dirs []string
	if runtime.GOOS == "linux" {
		dirs = append(dirs, filepath.Join("/var/log", appDir))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "."+appDir))
	}
	return append(dirs, filepath.Join(os.TempDir(), appDir))
}

// writable creates dir if needed and probes it with a throwaway file.
func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// GetLogFilePath returns the full path to the main log file.
func GetLogFilePath() string {
	return filepath.Join(GetLogDir(), "prerender.log")
}
