// Package main is the entry point for the svcboot CLI.
//
// svcboot builds a runtime image for a single-process network service
// and, as the image's start command, launches the service on
// 0.0.0.0:$PORT. All functionality lives in internal/cli.
//
// Build-time variables (version, commit, date) are injected via ldflags,
// e.g. -ldflags "-X main.version=1.0.0".
package main

import (
	"github.com/shinji-kodama/svcboot/internal/cli"
)

// version, commit, and date are set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
