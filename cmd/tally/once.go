package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"text/tabwriter"

	cli "github.com/urfave/cli/v3"

	"github.com/livinlefevreloca/tally/internal/metric"
	"github.com/livinlefevreloca/tally/internal/state"
)

func OnceCommand() *cli.Command {
	return &cli.Command{
		Name:  "once",
		Usage: "Refresh every metric once and print a summary",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "fail-on-error",
				Usage: "Exit non-zero when any metric failed to refresh",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, logger, err := loadConfig(command)
			if err != nil {
				return err
			}
			cfg.Worker.Continuous = false
			cfg.Worker.CycleSchedule = ""

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApplication(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := a.Close(closeCtx); err != nil {
					logger.Error("failed to release resources", "error", err)
				}
			}()

			if err := a.worker.Start(ctx); err != nil {
				return err
			}

			go func() {
				<-ctx.Done()
				a.worker.Stop()
			}()
			if err := a.worker.Wait(context.Background()); err != nil {
				return err
			}

			snapshot := a.publisher.State()
			if err := printSummary(os.Stdout, snapshot); err != nil {
				return err
			}

			if command.Bool("fail-on-error") {
				if failed := countStatus(snapshot, metric.StatusErrored); failed > 0 {
					return fmt.Errorf("%d metrics failed to refresh", failed)
				}
			}
			return nil
		},
	}
}

// printSummary writes one line per metric of the last pass
func printSummary(w io.Writer, snapshot state.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSOURCE\tSTATUS\tVALUE\tERROR")

	for _, id := range slices.Sorted(maps.Keys(snapshot.Metrics)) {
		m := snapshot.Metrics[id]
		value := "-"
		if m.Value != nil {
			value = strconv.FormatFloat(*m.Value, 'f', -1, 64)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.DisplayName, m.SourceType, m.Status, value, m.Error)
	}

	fmt.Fprintf(tw, "\n%s (%s)\n", snapshot.Status, snapshot.LastMessage)
	return tw.Flush()
}

func countStatus(snapshot state.Snapshot, status metric.Status) int {
	n := 0
	for _, m := range snapshot.Metrics {
		if m.Status == status {
			n++
		}
	}
	return n
}
