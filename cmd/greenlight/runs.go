package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/odvcencio/greenlight/pkg/config"
	"github.com/odvcencio/greenlight/pkg/storage"
)

// runRunsCommand lists recent runs, or the units of one run with -run.
// -prune trims the ledger first.
func runRunsCommand(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("n", 10, "number of runs to list")
	runID := fs.String("run", "", "show the units of one run")
	prune := fs.Int("prune", -1, "delete all but the newest N runs")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if *limit < 1 {
		return withExitCode(fmt.Errorf("-n must be >= 1, got %d", *limit), exitUsage)
	}

	cfg, err := loadConfigFn(globals.configPath)
	if err != nil {
		return err
	}
	ledger, err := storage.New(config.ResolvePath(cfg.Storage.Path))
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx := context.Background()
	if *prune >= 0 {
		removed, err := ledger.Prune(ctx, *prune)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "pruned %d runs\n", removed)
	}
	if *runID != "" {
		run, err := ledger.GetRun(ctx, *runID)
		if err != nil {
			return err
		}
		units, err := ledger.Units(ctx, run.ID)
		if err != nil {
			return err
		}
		printRuns(stdout, []storage.Run{*run})
		fmt.Fprintln(stdout)
		printUnits(stdout, units)
		return nil
	}

	runs, err := ledger.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	printRuns(stdout, runs)
	return nil
}
