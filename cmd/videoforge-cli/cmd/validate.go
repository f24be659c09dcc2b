package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	videoforge "github.com/ferro-labs/videoforge"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "validate <config-file>",
		Short:   "Validate a router configuration file (JSON/YAML)",
		Example: "videoforge-cli validate ./router.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			cfg, err := videoforge.LoadConfig(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := videoforge.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Config is valid")
			fmt.Fprintf(cmd.OutOrStdout(), "  Strategy:     %s\n", cfg.Strategy)
			fmt.Fprintf(cmd.OutOrStdout(), "  Timeout:      %dms\n", cfg.DefaultTimeoutMs)
			fmt.Fprintf(cmd.OutOrStdout(), "  Retry:        %d retries, %dms base delay\n", cfg.DefaultRetry.MaxRetries, cfg.DefaultRetry.BaseDelayMs)
			fmt.Fprintf(cmd.OutOrStdout(), "  Breaker:      threshold=%d open=%ds\n", cfg.Breaker.Threshold, cfg.Breaker.OpenSeconds)
			fmt.Fprintf(cmd.OutOrStdout(), "  Cache:        l1=%s(%d) l2_enabled=%t ttl=%ds\n", cfg.Cache.L1Policy, cfg.Cache.L1MaxEntries, cfg.Cache.L2Enabled, cfg.Cache.DefaultTTLSeconds)
			fmt.Fprintf(cmd.OutOrStdout(), "  Singleflight: %t\n", cfg.Singleflight)
			return nil
		},
	}
}
