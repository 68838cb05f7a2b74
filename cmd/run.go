// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/engine"
	"github.com/xkilldash9x/sameas-cli/internal/metrics"
	"github.com/xkilldash9x/sameas-cli/internal/observability"
	"github.com/xkilldash9x/sameas-cli/internal/reporting"
)

// runFlags holds the overrides accepted by `run`.
type runFlags struct {
	seeds                []string
	seedsFile            string
	datasets             []string
	functionalProperties bool
	nonASCII             bool
	maxIterations        int
	skipProbe            bool
	timeout              time.Duration
	exportPath           string
	includeRotten        bool
	statsFormat          string
}

// newRunCmd creates and configures the `run` command.
func newRunCmd(a *app) *cobra.Command {
	var f runFlags

	runCmd := &cobra.Command{
		Use:   "run [seed IRIs...]",
		Short: "Discovers the equivalence closure of the seeds across the configured datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			f.seeds = append(f.seeds, args...)

			// 1. Configuration Finalization
			if err := a.applyRunFlags(cmd, f); err != nil {
				return err
			}
			disc := a.cfg.Discovery()
			seeds, err := collectSeeds(disc)
			if err != nil {
				return err
			}
			if len(seeds) == 0 {
				return fmt.Errorf("no seeds given: pass seed IRIs, --seed or --seeds-file")
			}

			// 2. Metrics listener
			if m := a.cfg.Metrics(); m.Enabled {
				mctx, stop := context.WithCancel(ctx)
				defer stop()
				go func() {
					if err := metrics.Serve(mctx, m.ListenAddr, logger); err != nil {
						logger.Error("Metrics listener failed", zap.Error(err))
					}
				}()
			}

			// 3. Initialize Core Components
			components, err := a.factory.Create(ctx, a.cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize discovery components: %w", err)
			}
			defer components.Shutdown()

			driver, err := engine.New(components.Engine(), engine.Config{
				Seeds:                seeds,
				Datasets:             disc.Datasets,
				FunctionalProperties: disc.FunctionalProperties,
				MaxIterations:        disc.MaxIterations,
				SkipProbe:            disc.SkipProbe,
			}, cmd.OutOrStdout(), logger)
			if err != nil {
				return err
			}

			// 4. Execute the discovery loop
			sum, runErr := driver.Run(ctx)
			printSummary(cmd.OutOrStdout(), sum)
			runLog := observability.ForRun(sum.RunID)
			if runErr != nil {
				if errors.Is(runErr, context.Canceled) {
					runLog.Warn("Discovery aborted gracefully")
				}
				return runErr
			}
			for _, e := range multierr.Errors(sum.Errors) {
				runLog.Warn("Endpoint failure during run", zap.Error(e))
			}

			// 5. Outputs
			if f.exportPath != "" {
				if err := exportClasses(ctx, components.KG, cmd.OutOrStdout(), f.exportPath, f.includeRotten, logger); err != nil {
					return err
				}
			}
			if f.statsFormat != "" {
				stats, err := reporting.Collect(ctx, components.KG)
				if err != nil {
					return fmt.Errorf("failed to collect statistics: %w", err)
				}
				if err := reporting.Render(cmd.OutOrStdout(), stats, f.statsFormat); err != nil {
					return err
				}
			}
			return nil
		},
	}

	flags := runCmd.Flags()
	flags.StringSliceVar(&f.seeds, "seed", nil, "Seed IRI (repeatable).")
	flags.StringVar(&f.seedsFile, "seeds-file", "", "File with one seed IRI per line. (Overrides config/env)")
	flags.StringArrayVar(&f.datasets, "dataset", nil, "Dataset as id=endpoint (repeatable). Added to the configured catalog.")
	flags.BoolVar(&f.functionalProperties, "functional-properties", false, "Expand through voted (inverse) functional properties. (Overrides config/env)")
	flags.BoolVar(&f.nonASCII, "non-ascii", false, "Send non-ASCII resources to endpoints that accept them. (Overrides config/env)")
	flags.IntVar(&f.maxIterations, "max-iterations", 0, "Stop after this many iterations; 0 runs until the frontier is empty. (Overrides config/env)")
	flags.BoolVar(&f.skipProbe, "skip-probe", false, "Assume every endpoint is alive and capable. (Overrides config/env)")
	flags.DurationVar(&f.timeout, "timeout", 0, "Timeout of each remote query. (Overrides config/env)")
	flags.StringVarP(&f.exportPath, "export", "o", "", "Write the equivalence classes as CSV to this path ('-' for stdout) after the run.")
	flags.BoolVar(&f.includeRotten, "include-rotten", false, "Include Rotten resources in the export.")
	flags.StringVar(&f.statsFormat, "stats", "", "Print statistics after the run in this format (table, json, yaml).")

	return runCmd
}

// applyRunFlags folds the explicitly set flags into the loaded configuration
// and validates the result again.
func (a *app) applyRunFlags(cmd *cobra.Command, f runFlags) error {
	changed := cmd.Flags().Changed
	if len(f.seeds) > 0 {
		a.cfg.SetDiscoverySeeds(append(a.cfg.Discovery().Seeds, f.seeds...))
	}
	if changed("seeds-file") {
		a.cfg.DiscoveryCfg.SeedsFile = f.seedsFile
	}
	datasets, err := parseDatasets(a.cfg.Discovery().Datasets, f.datasets)
	if err != nil {
		return err
	}
	a.cfg.SetDiscoveryDatasets(datasets)
	if changed("functional-properties") {
		a.cfg.SetDiscoveryFunctionalProperties(f.functionalProperties)
	}
	if changed("non-ascii") {
		a.cfg.SetDiscoveryNonASCIIHandling(f.nonASCII)
	}
	if changed("max-iterations") {
		a.cfg.SetDiscoveryMaxIterations(f.maxIterations)
	}
	if changed("skip-probe") {
		a.cfg.DiscoveryCfg.SkipProbe = f.skipProbe
	}
	if changed("timeout") {
		a.cfg.SetFederationTimeout(f.timeout)
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// printSummary writes the closing report of a run.
func printSummary(w io.Writer, s engine.Summary) {
	fmt.Fprintf(w, "\nRun %s finished after %d iteration(s) in %s.\n", s.RunID, s.Iterations, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "  seeds: %d, admitted: %d, inferred: %d\n", s.Seeds, s.Admitted, s.Inferred)
	fmt.Fprintf(w, "  rotten: %d, statements pruned: %d\n", s.Rotten, s.Pruned)
	for _, t := range s.Confirmed {
		fmt.Fprintf(w, "  confirmed %s (functional %d, inverse functional %d, of %d with schema)\n", t.Property.Value, t.Functional, t.InverseFunctional, t.WithSchema)
	}
	if n := s.Failures(); n > 0 {
		fmt.Fprintf(w, "  endpoint failures: %d\n", n)
	}
	if s.Stopped {
		fmt.Fprintln(w, "  stopped at the iteration limit")
	}
}
