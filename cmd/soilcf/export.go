package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/soil.report/internal/cf"
	"github.com/banshee-data/soil.report/internal/fsutil"
	"github.com/banshee-data/soil.report/internal/security"
	"github.com/banshee-data/soil.report/internal/store"
	"github.com/banshee-data/soil.report/internal/table"
)

func (c *cli) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Write the per-site results of a recorded run as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: c.withStore(func(cmd *cobra.Command, s *store.Store) error {
			if err := requireSchema(s); err != nil {
				return err
			}
			id := cmd.Flags().Arg(0)
			run, err := s.GetRun(cmd.Context(), id)
			if err != nil {
				return err
			}
			rows, err := s.RunResults(cmd.Context(), id)
			if err != nil {
				return err
			}
			t := (&cf.Results{Indicator: run.Indicator, Rows: rows}).Table()

			if out == "" {
				return table.Write(cmd.OutOrStdout(), t, ',')
			}
			if err := security.ValidateExportPath(out); err != nil {
				return err
			}
			if err := table.WriteFile(fsutil.OSFileSystem{}, out, t); err != nil {
				return err
			}
			c.logger.Info("exported run", zap.String("run_id", id), zap.String("path", out), zap.Int("sites", t.Len()))
			return nil
		}),
	}
	cmd.Flags().StringVar(&c.dbPath, "db", "", "Database path (default: output.database from the config)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file under the working or temp directory (default: stdout)")
	return cmd
}
