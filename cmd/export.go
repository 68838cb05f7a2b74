// File: cmd/export.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/observability"
	"github.com/xkilldash9x/sameas-cli/internal/reporting"
)

// newExportCmd creates the `export` command, which writes the equivalence
// classes held by the configured store.
func newExportCmd(a *app) *cobra.Command {
	var outputPath string
	var includeRotten bool

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Exports the discovered equivalence classes as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components, err := a.factory.Create(ctx, a.cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize graph store: %w", err)
			}
			defer components.Shutdown()

			return exportClasses(ctx, components.KG, cmd.OutOrStdout(), outputPath, includeRotten, logger)
		},
	}

	exportCmd.Flags().StringVarP(&outputPath, "output", "o", "-", "Output file path ('-' for stdout).")
	exportCmd.Flags().BoolVar(&includeRotten, "include-rotten", false, "Include Rotten resources.")
	return exportCmd
}

// exportClasses writes the CSV export to path, or to stdout for "-".
func exportClasses(ctx context.Context, kg knowledgegraph.Gateway, stdout io.Writer, path string, includeRotten bool, logger *zap.Logger) error {
	logger.Info("Exporting equivalence classes...", zap.String("output_path", path), zap.Bool("include_rotten", includeRotten))

	var w io.Writer = stdout
	if path != "-" && path != "stdout" {
		f, err := reporting.Open(path)
		if err != nil {
			return err
		}
		defer func() {
			if err := f.Close(); err != nil {
				logger.Error("Failed to close export file", zap.Error(err))
			}
		}()
		w = f
	}

	n, err := reporting.WriteCSV(ctx, kg, w, includeRotten)
	if err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	logger.Info("Export written.", zap.Int("rows", n))
	return nil
}
