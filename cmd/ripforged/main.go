// Command ripforged runs the ripforge daemon in the foreground.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ripforge/internal/config"
	"ripforge/internal/daemonrun"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		opts       daemonrun.Options
	)
	cmd := &cobra.Command{
		Use:           "ripforged",
		Short:         "Run the ripforge daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Development logging with source locations")
	cmd.Flags().BoolVar(&opts.NoStart, "no-start", false, "Wait for `ripforge resume` before processing jobs")
	return cmd
}
