package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "tally",
		EnableShellCompletion: true,
		Usage:                 "Refresh metric values from their data sources",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (TOML)",
				Sources: cli.EnvVars("TALLY_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error), overrides the config file",
				Sources: cli.EnvVars("TALLY_LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			RunCommand(),
			OnceCommand(),
			MigrateCommand(),
			ImportCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "tally:", err)
		os.Exit(1)
	}
}
