// Command soilcf computes the counterfactual soil biodiversity indicator
// for a set of sampled sites and manages the run history database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/soil.report/internal/config"
	"github.com/banshee-data/soil.report/internal/monitoring"
	"github.com/banshee-data/soil.report/internal/version"
)

// cli holds the state shared by all sub-commands.
type cli struct {
	configPath string
	dbPath     string
	verbose    bool
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "soilcf",
		Short: "Counterfactual soil biodiversity indicator",
		Long: `soilcf scores every sampled site against the median of reference
land-use sites sharing its environmental context (bioregion, soil class,
...), and writes per-site, per-stratum and reference tables.

Run without a sub-command to run the pipeline.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.initLogger,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
		RunE: c.runPipeline,
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", config.DefaultConfigPath, "Pipeline configuration file (.yaml or .json)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(c.runCmd(), c.migrateCmd(), c.runsCmd(), c.exportCmd(), versionCmd())
	return root
}

func (c *cli) initLogger(cmd *cobra.Command, args []string) error {
	logger, err := monitoring.NewLogger(c.verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger
	monitoring.SetLogger(logger)
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
