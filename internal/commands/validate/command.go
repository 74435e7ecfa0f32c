// Package validate implements `checkflow validate`: load a workflow file
// and report config-time errors (duplicate ids, dangling depends_on,
// cyclic dependencies) without executing anything.
package validate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/checkflow/internal/config"
)

// NewCommand builds the `validate` subcommand.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow.yaml>",
		Short: "Validate a workflow file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d check(s), ok\n", args[0], len(cfg.Checks))
			return nil
		},
	}
	return cmd
}
