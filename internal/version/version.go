// Package version reports which build of daybook is running.
package version

import (
	"fmt"
	"runtime/debug"
)

// Set at build time via -ldflags "-X". When left empty, the values the Go
// toolchain stamps into the binary are used instead.
var (
	Version   = ""
	Commit    = ""
	BuildTime = ""
)

// Info describes one build.
type Info struct {
	Version   string
	Commit    string
	BuildTime string
	Modified  bool
}

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Get merges the ldflags values with the binary's embedded build info.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
	if bi, ok := readBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}

	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.BuildTime == "" {
		info.BuildTime = "unknown"
	}
	return info
}

// String renders the build for `daybook --version`.
func String() string {
	info := Get()
	commit := info.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if info.Modified {
		commit += "+dirty"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, commit, info.BuildTime)
}
