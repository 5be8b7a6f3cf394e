package main

import (
	"fmt"

	"github.com/kiranshivaraju/pavi/internal/config"
	"github.com/kiranshivaraju/pavi/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		Long: `Apply every pending migration to the database named by DATABASE_URL.
The API server does the same at startup when JOB_STORE is postgres.`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}
	cmd.Flags().String("dir", "", "Migrations directory (default DATABASE_MIGRATIONS_DIR)")
	cmd.Flags().String("database-url", "", "Postgres URL (default DATABASE_URL)")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	url, _ := cmd.Flags().GetString("database-url")

	if dir == "" || url == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if dir == "" {
			dir = cfg.Database.MigrationsDir
		}
		if url == "" {
			url = cfg.Database.URL
		}
	}
	if url == "" {
		return fmt.Errorf("DATABASE_URL or --database-url is required")
	}

	if err := store.RunMigrations(url, dir); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}
