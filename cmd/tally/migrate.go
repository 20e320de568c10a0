package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/livinlefevreloca/tally/internal/db"
	"github.com/livinlefevreloca/tally/internal/store"
)

func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the embedded schema migrations to the store database",
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, logger, err := loadConfig(command)
			if err != nil {
				return err
			}
			if cfg.Store.Backend != store.BackendSQL && cfg.Store.Backend != "" {
				return fmt.Errorf("migrate requires the sql store backend, got %s", cfg.Store.Backend)
			}

			cfg.Database.SkipMigrations = true
			database, err := db.OpenWithConfig(cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer database.Close()

			logger.Info("running migrations", "driver", cfg.Database.Driver)
			if err := database.Migrate(); err != nil {
				return err
			}

			version, err := database.SchemaVersion()
			if err != nil {
				return fmt.Errorf("failed to get schema version: %w", err)
			}
			logger.Info("database schema ready", "version", version)
			return nil
		},
	}
}
