// File: cmd/stats.go
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/observability"
	"github.com/xkilldash9x/sameas-cli/internal/reporting"
)

// newStatsCmd creates the `stats` command.
func newStatsCmd(a *app) *cobra.Command {
	var format string
	var outputPath string

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Prints statistics about the graph held by the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components, err := a.factory.Create(ctx, a.cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize graph store: %w", err)
			}
			defer components.Shutdown()

			stats, err := reporting.Collect(ctx, components.KG)
			if err != nil {
				return fmt.Errorf("failed to collect statistics: %w", err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if outputPath != "" {
				f, err := reporting.Open(outputPath)
				if err != nil {
					return err
				}
				defer func() {
					if err := f.Close(); err != nil {
						logger.Error("Failed to close statistics file", zap.Error(err))
					}
				}()
				w = f
			}
			return reporting.Render(w, stats, format)
		},
	}

	statsCmd.Flags().StringVarP(&format, "format", "f", reporting.FormatTable, "Output format (table, json, yaml).")
	statsCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path. If unset, statistics go to stdout.")
	return statsCmd
}
