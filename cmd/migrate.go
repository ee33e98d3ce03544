package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dtroode/moodist-server/database"
	"github.com/dtroode/moodist-server/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrations need DATABASE_DRIVER=postgres, got %q", cfg.Database.Driver)
	}

	ctx := cmd.Context()
	if err := database.Migrate(ctx, cfg.Database.DSN); err != nil {
		return err
	}

	version, err := database.Version(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	cmd.Printf("schema is at version %d\n", version)
	return nil
}
