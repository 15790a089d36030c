package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates the root command for the echo service.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "echo-service",
		Short: "Echo service hosted on the fabrichost test runtime",
		Long: `echo-service runs a single stateless service instance on the local
test runtime, publishes its endpoint to a service directory and echoes
requests back on /echo.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewDirectoryCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), PrintVersion())
		},
	})

	return cmd
}

// PrintVersion prints version information
func PrintVersion() string {
	return fmt.Sprintf("echo-service v%s (commit: %s, built on: %s)", Version, Commit, Date)
}
