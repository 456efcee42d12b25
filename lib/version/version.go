// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via -ldflags -X at build time. Unset fields fall back to the VCS
// stamp the Go toolchain embeds in module-aware builds.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Info returns "<version> (<commit>[-dirty], <build time>)".
func Info() string {
	commit, dirty, built := GitCommit, GitDirty, BuildTime
	if commit == "unknown" {
		commit, dirty, built = fromBuildInfo(dirty, built)
	}
	suffix := ""
	if dirty == "true" {
		suffix = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, commit, suffix, built)
}

func fromBuildInfo(dirty, built string) (string, string, string) {
	commit := "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, dirty, built
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
			if len(commit) > 12 {
				commit = commit[:12]
			}
		case "vcs.modified":
			dirty = setting.Value
		case "vcs.time":
			if built == "unknown" {
				built = setting.Value
			}
		}
	}
	return commit, dirty, built
}

// Print writes "<binary> <Info> <goos>/<goarch>" to stdout.
func Print(binary string) {
	fmt.Printf("%s %s %s/%s\n", binary, Info(), runtime.GOOS, runtime.GOARCH)
}
