// Package trace implements `checkflow trace`: replay an NDJSON
// lifecycle trace written by `run --trace` back to stdout in a readable
// form.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type traceLine struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewCommand builds the `trace` subcommand.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <trace.ndjson>",
		Short: "Replay an NDJSON lifecycle trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				var line traceLine
				if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %v\n", line.Timestamp, line.Type, line.Data)
			}
			return scanner.Err()
		},
	}
	return cmd
}
