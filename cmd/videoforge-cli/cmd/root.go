// Package cmd implements the videoforge-cli subcommands.
package cmd

import "github.com/spf13/cobra"

// Root builds the top-level command tree.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "videoforge-cli",
		Short: "Command-line tool for the videoforge orchestration core",
		Long:  "Validate router configs and submit one-shot generation requests against a running videoforge-server.",
	}

	root.AddCommand(newValidateCmd())
	root.AddCommand(newGenerateCmd())
	root.AddCommand(newVersionCmd())
	return root
}
