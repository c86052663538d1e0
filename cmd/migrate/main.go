// Command migrate applies or reverts the embedded Postgres schema and loads
// demo seed data.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	flag "github.com/spf13/pflag"

	"campushub.org/internal/migrate"
	"campushub.org/internal/store/pg"
)

const usage = "usage: migrate [--dsn DSN] [--table NAME] [--timeout 30s] up|down|status|seed"

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func main() {
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN (default $DATABASE_URL)")
	table := flag.String("table", "schema_migrations", "bookkeeping table for applied migrations")
	timeout := flag.Duration("timeout", 30*time.Second, "deadline for the whole command")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(flag.Arg(0), *dsn, *table, *timeout, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func run(command, dsn, table string, timeout time.Duration, out io.Writer) error {
	if dsn == "" {
		return errors.New("missing DSN: pass --dsn or set DATABASE_URL")
	}
	if !tableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	return dispatch(ctx, command, newManager(db, table), out)
}

func newManager(db *sql.DB, table string) *migrate.Manager {
	return migrate.NewManager(db, pg.Migrations, pg.MigrationsDir,
		migrate.WithMigrationsTable(table),
		migrate.WithSeeds(pg.SeedsDir),
	)
}

func dispatch(ctx context.Context, command string, mgr *migrate.Manager, out io.Writer) error {
	switch command {
	case "up":
		applied, err := mgr.Up(ctx)
		for _, name := range applied {
			fmt.Fprintln(out, "applied", name)
		}
		if err == nil && len(applied) == 0 {
			fmt.Fprintln(out, "schema up to date")
		}
		return err
	case "down":
		reverted, err := mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNoMigrations) {
			fmt.Fprintln(out, "nothing to revert")
			return nil
		}
		if err == nil {
			fmt.Fprintln(out, "reverted", reverted)
		}
		return err
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Fprintln(out, "no migrations applied")
		}
		for _, item := range history {
			fmt.Fprintln(out, item)
		}
		return nil
	case "seed":
		seeded, err := mgr.Seed(ctx)
		for _, name := range seeded {
			fmt.Fprintln(out, "seeded", name)
		}
		if err == nil && len(seeded) == 0 {
			fmt.Fprintln(out, "seeds already loaded")
		}
		return err
	default:
		return fmt.Errorf("unknown command %q (%s)", command, usage)
	}
}
