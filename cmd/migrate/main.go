package main

import (
	"Parimutuel/internal/config"
	"Parimutuel/internal/observability"
	"Parimutuel/internal/persistence"
	"Parimutuel/migrations"
	"context"
	"flag"
	"fmt"
	"os"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Usage = func() {
		fmt.Println("Usage: migrate [-config file] <up|down|status>")
		fmt.Println("  up     - apply all pending migrations")
		fmt.Println("  down   - roll back the last migration")
		fmt.Println("  status - list applied migrations")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  PARI_DATABASE_DRIVER - postgres or sqlite")
		fmt.Println("  PARI_DATABASE_DSN    - connection string")
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	dialect, err := persistence.ParseDialect(cfg.Database.Driver)
	if err != nil {
		logger.Fatal().Err(err).Msg("database driver")
	}
	db, err := persistence.Open(dialect, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, dialect, migrations.FS, logger)

	switch flag.Arg(0) {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "status":
		applied, err := migrator.Applied(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migration status")
		}
		for _, v := range applied {
			fmt.Println(v)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", flag.Arg(0))
		os.Exit(1)
	}
}
