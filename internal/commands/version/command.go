// Package version implements `checkflow version`.
package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/checkflow/internal/cli"
)

// NewCommand builds the `version` subcommand.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, commit, date := cli.Version()
			fmt.Fprintf(cmd.OutOrStdout(), "checkflow %s (%s, built %s)\n", v, commit, date)
			return nil
		},
	}
}
