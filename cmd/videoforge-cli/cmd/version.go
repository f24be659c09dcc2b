package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferro-labs/videoforge/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "videoforge-cli %s\n", version.String())
			return err
		},
	}
}
