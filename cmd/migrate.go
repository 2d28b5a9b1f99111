package cmd

import (
	"context"
	"fmt"

	"ms-ticket-market/internal/database"
	"ms-ticket-market/internal/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Create the marketplace tables",
	RunE:  runMigrateUp,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.NewLogger(cfg.LogDir)
	defer log.Close()
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx := context.Background()
	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer bunDB.Close()

	if err := database.Migrate(ctx, bunDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("DATABASE", "migrate up: ok")
	return nil
}
