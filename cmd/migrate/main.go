package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"VaultLedger/internal/config"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/storage"
)

func usage() {
	fmt.Println("Usage: migrate <up|down|status>")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  status - list migrations and whether they are applied")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  VAULT_CONFIG          - optional YAML config file")
	fmt.Println("  VAULT_JOURNAL_DSN     - Postgres connection string (falls back to VAULT_POSTGRES_DSN)")
	fmt.Println("  VAULT_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	dsn := cfg.Journal.PostgresDSN
	if dsn == "" {
		dsn = cfg.Storage.PostgresDSN
	}
	if dsn == "" {
		logger.Fatal().Msg("no Postgres DSN configured (set VAULT_JOURNAL_DSN or VAULT_POSTGRES_DSN)")
	}

	ctx := context.Background()
	pg, err := storage.OpenPostgres(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer pg.Close()

	migrator := persistence.NewMigrator(pg.DB(), cfg.Journal.MigrationsDir, logger)

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
		status, err := migrator.Status(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate status")
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tAPPLIED\tFILE")
		for _, s := range status {
			fmt.Fprintf(w, "%s\t%v\t%s\n", s.Version, s.Applied, s.Filename)
		}
		w.Flush()

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", os.Args[1])
		os.Exit(1)
	}
}
