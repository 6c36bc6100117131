package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/inheritx/valuation-engine/internal/config"
	"github.com/inheritx/valuation-engine/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(os.Args[1:]); err != nil {
		slog.Error("migration failed", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: migrate <up|down|version> [N]")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	m, err := store.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			slog.Warn("migrator close error", "err", err)
		}
	}()

	switch args[0] {
	case "up":
		if err := m.Up(); err != nil {
			return err
		}
		slog.Info("migrations applied")

	case "down":
		steps := 1
		if len(args) > 1 {
			steps, err = strconv.Atoi(args[1])
			if err != nil || steps <= 0 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
		}
		if err := m.Down(steps); err != nil {
			return err
		}
		slog.Info("rolled back migrations", "steps", steps)

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		slog.Info("schema version", "version", version, "dirty", dirty)

	default:
		return fmt.Errorf("unknown command %q, expected up, down or version", args[0])
	}
	return nil
}
