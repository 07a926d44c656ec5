// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/cacao-monitor/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/cacao-monitor/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/cacao-monitor/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Without ldflags, Commit and BuildTime fall back to the VCS stamp embedded by
// the go command, when there is one.
package version

import (
	"runtime/debug"
	"sync"
)

// Build-time variables (set via ldflags)
var (
	// Version is the semantic version (e.g., "1.0.0")
	Version = "dev"

	// Commit is the git commit hash (short form)
	Commit = "unknown"

	// BuildTime is the UTC build timestamp (ISO 8601)
	BuildTime = "unknown"
)

const product = "cacao-monitor"

var vcsOnce sync.Once

// fillFromBuildInfo replaces unknown values with the embedded VCS stamp.
func fillFromBuildInfo() {
	vcsOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if Commit == "unknown" && s.Value != "" {
					Commit = shortRevision(s.Value)
				}
			case "vcs.time":
				if BuildTime == "unknown" && s.Value != "" {
					BuildTime = s.Value
				}
			}
		}
	})
}

func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

// String returns a formatted version string.
func String() string {
	fillFromBuildInfo()
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent returns the User-Agent sent to Adafruit IO.
func UserAgent() string {
	return product + "/" + Version
}
