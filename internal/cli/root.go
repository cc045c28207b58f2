// Package cli provides the command-line interface for portage.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/portagehq/portage/internal/version"
)

// Global flags shared by all subcommands.
var (
	cfgFile string
	verbose bool
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "portage",
		Short: "Portage - one API for heterogeneous file storage",
		Long: `Portage ` + version.Version + ` - Built: ` + version.BuildTime + `
RESTful gateway that fronts cloud storage services with a single
file-and-folder API.

Every entity lives under
  /v1/resources/{resource}/providers/{provider}/{path}
and supports metadata, listing, download, upload, copy, move, rename
and delete regardless of which backend holds the bytes.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	return rootCmd
}

// Execute runs the CLI. The command context is cancelled on SIGINT or
// SIGTERM so the server drains in-flight requests before exiting.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	return rootCmd.ExecuteContext(ctx)
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
