package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goscan/internal/store/pg"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back Postgres schema migrations (managed mode)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), pg.Migrate)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := promptConfirm("Drop the scan_sessions schema?", false)
			if err != nil || !ok {
				return err
			}
			return runMigrate(cmd.Context(), pg.MigrateDown)
		},
	})
	return cmd
}

func runMigrate(ctx context.Context, apply func(*sql.DB) error) error {
	cfg := mustLoadConfig()
	if cfg.Database.Mode != "managed" || cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("migrations need database.mode=managed and database.postgres_dsn")
	}
	db, err := pg.OpenDB(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := apply(db); err != nil {
		return err
	}
	fmt.Println("Migrations applied.")
	return nil
}
