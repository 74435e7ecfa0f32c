// Command checkflow is the CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/tombee/checkflow/internal/cli"
	"github.com/tombee/checkflow/internal/commands/run"
	"github.com/tombee/checkflow/internal/commands/trace"
	"github.com/tombee/checkflow/internal/commands/validate"
	versioncmd "github.com/tombee/checkflow/internal/commands/version"
)

// Populated at build time via -ldflags.
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

func main() {
	cli.SetVersion(buildVersion, buildCommit, buildDate)

	root := cli.NewRootCommand()
	root.AddCommand(run.NewCommand())
	root.AddCommand(validate.NewCommand())
	root.AddCommand(trace.NewCommand())
	root.AddCommand(versioncmd.NewCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
