// File: cmd/probe.go
package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/observability"
	"github.com/xkilldash9x/sameas-cli/internal/registry"
)

// newProbeCmd creates the `probe` command, which loads the catalog and
// measures each endpoint without running discovery.
func newProbeCmd(a *app) *cobra.Command {
	var datasets []string

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Probes the configured SPARQL endpoints and prints their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			merged, err := parseDatasets(a.cfg.Discovery().Datasets, datasets)
			if err != nil {
				return err
			}
			a.cfg.SetDiscoveryDatasets(merged)
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if len(merged) == 0 {
				return fmt.Errorf("no datasets configured: pass --dataset id=endpoint")
			}

			components, err := a.factory.Create(ctx, a.cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize discovery components: %w", err)
			}
			defer components.Shutdown()

			if err := components.Registry.Populate(ctx, merged); err != nil {
				return err
			}
			dropped, err := components.Registry.Deduplicate(ctx)
			if err != nil {
				return err
			}
			for _, id := range dropped {
				logger.Info("Dropped duplicate dataset", zap.String("dataset", id))
			}
			if _, err := components.Prober.Probe(ctx); err != nil {
				return err
			}
			all, err := components.Registry.List(ctx)
			if err != nil {
				return err
			}
			return printDatasets(cmd.OutOrStdout(), all)
		},
	}

	probeCmd.Flags().StringArrayVar(&datasets, "dataset", nil, "Dataset as id=endpoint (repeatable). Added to the configured catalog.")
	return probeCmd
}

func printDatasets(w io.Writer, datasets []registry.Dataset) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tENDPOINT\tALIVE\tVALUES\tNON-ASCII\tLIMIT")
	for _, d := range datasets {
		limit := "-"
		if d.Status.ResultLimit > 0 {
			limit = fmt.Sprint(d.Status.ResultLimit)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%t\t%s\n", d.ID, d.Endpoint, d.Status.Alive, d.Status.SupportsValues, d.Status.SupportsNonASCII, limit)
	}
	return tw.Flush()
}
