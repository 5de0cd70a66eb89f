package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"optbacktest/internal/backtest"
	"optbacktest/internal/collector"
	"optbacktest/internal/metrics"
	"optbacktest/internal/performance"
	"optbacktest/internal/strategy"
)

func (a *app) ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Import price or option-chain CSV files",
	}
	cmd.AddCommand(
		a.ingestTable("prices", "Import a ticker,date,price CSV", (*collector.Collector).ImportPrices),
		a.ingestTable("quotes", "Import an option-chain CSV keyed by id,date", (*collector.Collector).ImportQuotes),
	)
	return cmd
}

type importFunc func(*collector.Collector, context.Context, io.Reader) (collector.Stats, error)

func (a *app) ingestTable(name, short string, fn importFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <file.csv>",
		Short: short,
		Args:  exactArgs(1, "optbacktest ingest "+name+" <file.csv>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()

			stats, err := fn(collector.New(database), cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("importing %s: %w", args[0], err)
			}
			slog.Info("ingest complete", "table", name, "file", args[0], "rows", stats.Rows, "skipped", stats.Skipped)
			return nil
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every enabled strategy and record the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			if from != "" {
				a.cfg.Backtest.From = from
			}
			if to != "" {
				a.cfg.Backtest.To = to
			}
			start, end, err := a.cfg.Backtest.Range()
			if err != nil {
				return err
			}

			reg := metrics.New()
			res, err := backtest.NewRunner(database, a.cfg, reg).Run(cmd.Context(), start, end)
			if err != nil {
				return fmt.Errorf("backtest failed: %w", err)
			}

			if path := a.cfg.General.MetricsPath; path != "" {
				if err := reg.WriteTextfile(path); err != nil {
					return err
				}
				slog.Info("metrics written", "path", path)
			}

			report, err := performance.NewTracker(database).Generate(cmd.Context(), res.RunID)
			if err != nil {
				return err
			}
			performance.LogReport(report)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first episode date (YYYY-MM-DD), overrides backtest.from")
	cmd.Flags().StringVar(&to, "to", "", "last episode date (YYYY-MM-DD), overrides backtest.to")
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report [run-id]",
		Short: "Summarize a recorded run, the latest by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			tracker := performance.NewTracker(database)
			var runID string
			if len(args) == 1 {
				runID = args[0]
			} else if runID, err = tracker.LatestRun(cmd.Context()); err != nil {
				return err
			}

			report, err := tracker.Generate(cmd.Context(), runID)
			if err != nil {
				return err
			}
			performance.LogReport(report)
			return nil
		},
	}
}

func strategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the registered strategy kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range strategy.Kinds() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}
