package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portagehq/portage/internal/version"
)

// newVersionCmd creates the 'version' command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "portage %s (built %s)\n", version.Version, version.BuildTime)
		},
	}
}
