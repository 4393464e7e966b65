package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/soil.report/internal/config"
	"github.com/banshee-data/soil.report/internal/store"
)

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run history database schema",
	}
	cmd.PersistentFlags().StringVar(&c.dbPath, "db", "", "Database path (default: output.database from the config)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: c.withStore(func(cmd *cobra.Command, s *store.Store) error {
				if err := s.MigrateUp(); err != nil {
					return err
				}
				return printVersion(cmd, s)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: c.withStore(func(cmd *cobra.Command, s *store.Store) error {
				if err := s.MigrateDown(); err != nil {
					return err
				}
				return printVersion(cmd, s)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE:  c.withStore(printVersion),
		},
	)
	return cmd
}

func (c *cli) runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, most recent first",
		Args:  cobra.NoArgs,
		RunE: c.withStore(func(cmd *cobra.Command, s *store.Store) error {
			if err := requireSchema(s); err != nil {
				return err
			}
			runs, err := s.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tCREATED\tINDICATOR\tREFERENCE\tPOLICY\tSITES\tUNDEFINED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n", r.RunID, r.CreatedAt.UTC().Format(time.RFC3339),
					r.Indicator, r.ReferenceLandUse, r.Policy, r.Sites, r.Undefined)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&c.dbPath, "db", "", "Database path (default: output.database from the config)")
	return cmd
}

// withStore opens the database named by --db or the config for fn. The
// schema is not migrated on open.
func (c *cli) withStore(fn func(cmd *cobra.Command, s *store.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		path, err := c.databasePath()
		if err != nil {
			return err
		}
		s, err := store.Connect(path)
		if err != nil {
			return err
		}
		defer s.Close()
		c.logger.Debug("opened database", zap.String("path", path))
		return fn(cmd, s)
	}
}

func (c *cli) databasePath() (string, error) {
	if c.dbPath != "" {
		return c.dbPath, nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return "", err
	}
	if cfg.Output.Database == "" {
		return "", errors.New("no database: pass --db or set output.database")
	}
	return cfg.Output.Database, nil
}

// errNoSchema is returned by read commands on a database that was never
// migrated.
var errNoSchema = errors.New("no run history: schema version 0, run `soilcf migrate up` or `soilcf run` first")

// requireSchema checks that the run tables exist without creating them.
func requireSchema(s *store.Store) error {
	version, dirty, err := s.MigrateVersion()
	if err != nil {
		return err
	}
	if version == 0 {
		return errNoSchema
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}
	return nil
}

func printVersion(cmd *cobra.Command, s *store.Store) error {
	version, dirty, err := s.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d", version)
	if dirty {
		fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
