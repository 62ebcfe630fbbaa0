package main

import (
	"fmt"
	"os/exec"
	"runtime/debug"
	"strings"
	"time"
)

var (
	// Set at build time via go build -ldflags
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GetVersionInfo returns formatted version information
func GetVersionInfo() string {
	return fmt.Sprintf("Seeker v%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}

// GetGitCommit returns the ldflags commit, then the VCS stamp of the binary,
// then whatever git reports for the working directory
func GetGitCommit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
		}
	}

	output, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(output))
}

// GetBuildInfo returns the startup banner
func GetBuildInfo() string {
	buildTime := BuildTime
	if buildTime == "unknown" {
		buildTime = time.Now().Format("2006-01-02 15:04:05")
	}

	return fmt.Sprintf("🔎 Seeker v%s\nCommit: %s\nBuild Time: %s\nGo: %s",
		Version, GetGitCommit(), buildTime, goVersion())
}

func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}
