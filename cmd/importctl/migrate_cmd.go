package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zakakatz/embrTimeOff-sub000/internal/store/postgres"
)

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert database schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPool(cmd, opts, func(a *app) error {
				if err := postgres.Migrate(a.pool); err != nil {
					return err
				}
				return printVersion(cmd, a)
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			return withPool(cmd, opts, func(a *app) error {
				if err := postgres.MigrateDown(a.pool, steps); err != nil {
					return err
				}
				return printVersion(cmd, a)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to revert")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPool(cmd, opts, func(a *app) error {
				return printVersion(cmd, a)
			})
		},
	})
	return cmd
}

func withPool(cmd *cobra.Command, opts *globalOptions, fn func(*app) error) error {
	if opts.DryRun {
		return fmt.Errorf("migrations need a database; drop --dry-run")
	}
	a, err := openApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func printVersion(cmd *cobra.Command, a *app) error {
	v, dirty, err := postgres.MigrationVersion(a.pool)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", v, dirty)
	return nil
}
