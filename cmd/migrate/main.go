package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"CreditLedger/internal/config"
	"CreditLedger/internal/core"
	"CreditLedger/internal/observability"
	"CreditLedger/internal/persistence"
	"CreditLedger/internal/projection"

	_ "github.com/lib/pq"
)

func usage() {
	fmt.Println("Usage: migrate <up|down|status|rebuild-projections>")
	fmt.Println("  up                   - apply all pending migrations")
	fmt.Println("  down                 - roll back the last migration")
	fmt.Println("  status               - list pending migrations")
	fmt.Println("  rebuild-projections  - rebuild projection tables from the event log")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  CREDIT_POSTGRES_DSN     - Postgres connection string")
	fmt.Println("  CREDIT_MIGRATIONS_DIR   - path to migrations directory (default: migrations)")
	fmt.Println("  CREDIT_PROTOCOL_CONFIG  - protocol YAML, needed by rebuild-projections")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")
	cfg := config.DefaultConfig()

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, logger)

	switch os.Args[1] {
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
		pending, err := migrator.Pending(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate status")
		}
		if len(pending) == 0 {
			fmt.Println("up to date")
		}
		for _, f := range pending {
			fmt.Println("pending:", f)
		}

	case "rebuild-projections":
		protocol, err := config.LoadProtocol(cfg.ProtocolConfigPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("load protocol config")
		}
		fresh, err := core.NewDeterministicCore(core.Options{
			Protocol:    protocol,
			LRUCapacity: cfg.IdempotencyLRUCapacity,
			Logger:      logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("build core")
		}
		n, err := projection.Rebuild(ctx, db, persistence.NewSnapshotManager(db, nil), fresh, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("rebuild projections")
		}
		logger.Info().Int64("events", n).Msg("projections rebuilt")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}
