// Package sysinfo reports build and runtime version information for the
// fenris-server and fenris-client CLIs.
package sysinfo

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// Version is set at build time via ldflags, e.g.:
	// go build -ldflags="-X github.com/fenrisnet/fenris/internal/sysinfo.Version=1.0.0"
	Version = "dev"

	startTime     time.Time
	startTimeOnce sync.Once
)

func init() {
	startTimeOnce.Do(func() {
		startTime = time.Now()
	})
	if Version == "dev" {
		Version = enhanceDevVersion()
	}
}

// enhanceDevVersion adds git commit info to a "dev" version using Go's
// embedded build info, producing forms like "dev-a1b2c3d" or
// "dev-a1b2c3d-dirty".
func enhanceDevVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev-" + startTime.UTC().Format("20060102-150405")
	}

	var revision string
	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}

	if revision == "" {
		return "dev-" + startTime.UTC().Format("20060102-150405")
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if dirty {
		return "dev-" + revision + "-dirty"
	}
	return "dev-" + revision
}

// String returns a one-line "name version (os/arch)" banner suitable for
// --version output.
func String(name string) string {
	return name + " " + Version + " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}

// StartTime returns the process start time.
func StartTime() time.Time {
	return startTime
}

// Uptime returns the process uptime.
func Uptime() time.Duration {
	return time.Since(startTime)
}
