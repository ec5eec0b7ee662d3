// Command migrate applies or rolls back the Postgres schema migrations used
// by cdpledger. The server runs Up on startup too; this binary exists for
// operators who want to migrate out of band.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"CDPLedger/internal/observability"
	"CDPLedger/internal/persistence"
)

const usage = `usage: migrate <up|down>

  up    apply all pending migrations
  down  roll back the last applied migration

environment:
  CDP_POSTGRES_DSN    Postgres connection string
  CDP_MIGRATIONS_DIR  migrations directory (default: migrations)
`

func main() {
	if len(os.Args) != 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]
	if cmd != "up" && cmd != "down" {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	logger := observability.NewLogger("migrate")

	dsn := os.Getenv("CDP_POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/cdpledger?sslmode=disable"
	}
	dir := os.Getenv("CDP_MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping db")
	}

	migrator := persistence.NewMigrator(db, dir, logger)
	if cmd == "up" {
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("migrations up to date")
		return
	}
	if err := migrator.Down(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrate down")
	}
	logger.Info().Msg("last migration rolled back")
}
