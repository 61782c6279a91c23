// docingest - batch document ingestion for the wealth dashboard.
package main

import (
	"os"

	"github.com/finbase/docingest/internal/cli"
)

// Version information, overridable via LDFLAGS at release time.
var (
	Version   = "v1.0.0"
	BuildTime = "dev"
)

func main() {
	cli.Version = Version
	cli.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
