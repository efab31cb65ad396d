// Package main applies the postgres blob store schema migrations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cory-johannsen/barlink/internal/config"
	"github.com/cory-johannsen/barlink/internal/observability"
	"github.com/cory-johannsen/barlink/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file; empty = defaults and environment only")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before configuration")
	direction := flag.String("direction", "up", "migration direction: up, down, version, or force")
	steps := flag.Int("steps", 0, "number of steps (0 = all); the target version for force")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("loading %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger, cfg.Database, *direction, *steps); err != nil {
		logger.Fatal("migration failed", zap.String("direction", *direction), zap.Error(err))
	}
}

func run(logger *zap.Logger, db config.DatabaseConfig, direction string, steps int) error {
	m, err := postgres.NewMigrator(db.DSN())
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "force":
		err = m.Force(steps)
	case "version":
	default:
		return fmt.Errorf("invalid direction %q", direction)
	}

	noChange := errors.Is(err, migrate.ErrNoChange)
	if err != nil && !noChange {
		return err
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("reading version: %w", verr)
	}
	logger.Info("schema",
		zap.String("direction", direction),
		zap.Bool("changed", !noChange && direction != "version"),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
		zap.String("host", db.Host),
		zap.String("database", db.Name),
	)
	return nil
}
