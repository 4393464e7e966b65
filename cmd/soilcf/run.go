package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/soil.report/internal/config"
	"github.com/banshee-data/soil.report/internal/pipeline"
)

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline end to end",
		Long: `Loads and joins the input tables, collapses rare context categories,
builds the reference medians, scores every site and writes the outputs
named in the configuration. The run is recorded when output.database is
set.`,
		Args: cobra.NoArgs,
		RunE: c.runPipeline,
	}
}

func (c *cli) runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.logger.Info("starting run", zap.String("config", c.configPath))
	res, err := pipeline.Run(ctx, cfg, pipeline.Deps{Logger: c.logger})
	if err != nil {
		c.logger.Error("run failed", zap.Error(err))
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "scored %d sites (%d undefined) for %s\n",
		res.Sites, res.Outcome.Results.Undefined(), res.Outcome.Results.Indicator)
	if res.RunID != "" {
		fmt.Fprintf(out, "run %s\n", res.RunID)
	}
	for _, f := range res.Files {
		fmt.Fprintf(out, "  %s\n", f)
	}
	return nil
}
