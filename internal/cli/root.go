// Package cli builds the root cobra.Command for the checkflow binary.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion records build-time version info (normally injected via
// ldflags).
func SetVersion(v, c, d string) {
	version, commit, buildDate = v, c, d
}

// Version returns the build-time version triple.
func Version() (string, string, string) { return version, commit, buildDate }

// normalizeFlags accepts underscore spellings of flag names
// (--max_parallelism) alongside the canonical dashed forms, matching the
// workflow YAML's field naming.
func normalizeFlags(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// NewRootCommand builds the bare root command; callers attach
// subcommands with AddCommand.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "checkflow",
		Short: "Run declarative, expression-gated code-review checks against a trigger event",
		Long: `checkflow schedules a named workflow of checks against an inbound
trigger event: it resolves the dependency graph, evaluates each check's
gate and fail_if expressions, dispatches to a pluggable provider, and
reports grouped, deduplicated findings.`,
		SilenceUsage: true,
	}
	root.SetGlobalNormalizationFunc(normalizeFlags)
	return root
}
