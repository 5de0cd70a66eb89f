package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"optbacktest/internal/config"
	"optbacktest/internal/db"
)

type app struct {
	configPath string
	cfg        *config.Config
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "optbacktest",
		Short:         "Backtest option strategies around large underlying moves",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (.toml or .yaml); defaults to $OPTBT_CONFIG_PATH or config.toml")

	root.AddCommand(
		a.ingestCmd(),
		a.runCmd(),
		a.reportCmd(),
		strategiesCmd(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// load reads the config and installs the JSON logger at its level.
func (a *app) load() error {
	path := a.configPath
	if path == "" {
		path = "config.toml"
		if p := os.Getenv("OPTBT_CONFIG_PATH"); p != "" {
			path = p
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.General.LogLevel),
	})))
	slog.Debug("config loaded", "path", path)
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openDB loads the config, then opens and migrates the database.
func (a *app) openDB() (*sqlx.DB, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	database, err := db.Open(a.cfg.General.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		return nil, err
	}
	slog.Info("database initialized", "path", a.cfg.General.DBPath)
	return database, nil
}

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("usage: %s", usage)
		}
		return nil
	}
}
