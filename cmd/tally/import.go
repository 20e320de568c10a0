package main

import (
	"context"
	"fmt"
	"io"

	cli "github.com/urfave/cli/v3"

	"github.com/livinlefevreloca/tally/internal/store"
)

func ImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Seed the configured store with the metrics of a YAML file",
		ArgsUsage: "<metrics.yaml>",
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return fmt.Errorf("import requires the path of a YAML metrics file")
			}

			cfg, logger, err := loadConfig(command)
			if err != nil {
				return err
			}
			if cfg.Store.Backend == store.BackendYAML {
				return fmt.Errorf("the yaml store backend is edited in place, nothing to import into")
			}

			defs, err := store.NewYAMLStore(path).LoadAll(ctx)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			target, database, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if closer, ok := target.(io.Closer); ok {
					closer.Close()
				}
				if database != nil {
					database.Close()
				}
			}()

			importer, ok := target.(store.Importer)
			if !ok {
				return fmt.Errorf("store backend %s does not support import", cfg.Store.Backend)
			}
			if err := importer.Import(ctx, defs); err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			logger.Info("metrics imported", "count", len(defs), "backend", cfg.Store.Backend)
			return nil
		},
	}
}
