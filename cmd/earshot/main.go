package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/earshot-labs/earshot/internal/convo"
	"github.com/earshot-labs/earshot/internal/daemon"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("earshot %s (%s)\n", version, commit)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cp := *configPath
	if cp == "" {
		cp = os.Getenv("EARSHOT_CONFIG_PATH")
	}

	cfg, err := daemon.LoadConfig(cp)
	if err != nil {
		slog.Error("failed to load config", "path", cp, "error", err)
		os.Exit(1)
	}

	slog.Info("earshot starting",
		"version", version,
		"character", cfg.Character,
		"store", cfg.Store.Driver,
	)

	store, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open conversation store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	d, err := daemon.New(store, cfg)
	if err != nil {
		slog.Error("failed to create daemon", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}

	slog.Info("earshot stopped")
}

// openStore opens the conversation store named by the config.
func openStore(cfg *daemon.Config) (convo.Manager, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.PostgresURL == "" {
			return nil, fmt.Errorf("postgres driver selected but no postgres_url configured")
		}
		return convo.OpenPostgres(context.Background(), cfg.Store.PostgresURL)
	case "sqlite", "":
		dir := cfg.Store.DataDir
		if dir == "" {
			dir = "data"
		}
		return convo.OpenSQLite(dir)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
