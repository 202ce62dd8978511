package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "mediavault %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
