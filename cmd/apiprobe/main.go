// apiprobe CLI - scenario-driven API testing from the command line
package main

import "github.com/apiprobe/apiprobe/pkg/cli"

// Build-time variables set via ldflags
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.BuildDate = buildDate
	cli.Execute()
}
