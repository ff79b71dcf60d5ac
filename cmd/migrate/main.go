// Команда migrate управляет схемой PostgreSQL магазина.
//
//	migrate [-dsn DSN] [-timeout 30s] up [N]
//	migrate [-dsn DSN] down [N]
//	migrate [-dsn DSN] status
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/app"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/storage/postgres"
)

var errUsage = errors.New("usage: migrate [-dsn DSN] [-timeout D] up [N] | down [N] | status")

type schema interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
}

type command struct {
	dsn     string
	timeout time.Duration
	action  string
	steps   int
}

func parseCommand(args []string, getenv func(string) string) (command, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	cmd := command{}
	fs.StringVar(&cmd.dsn, "dsn", "", "PostgreSQL DSN, по умолчанию "+app.EnvPostgresDSN)
	fs.DurationVar(&cmd.timeout, "timeout", 30*time.Second, "общий таймаут операции")
	if err := fs.Parse(args); err != nil {
		return command{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	cmd.dsn = strings.TrimSpace(cmd.dsn)
	if cmd.dsn == "" {
		cmd.dsn = strings.TrimSpace(getenv(app.EnvPostgresDSN))
	}
	if cmd.dsn == "" {
		return command{}, fmt.Errorf("postgres dsn is required: pass -dsn or set %s", app.EnvPostgresDSN)
	}

	rest := fs.Args()
	if len(rest) == 0 || len(rest) > 2 {
		return command{}, errUsage
	}
	cmd.action = strings.ToLower(rest[0])
	switch cmd.action {
	case "up", "down":
	case "status":
		if len(rest) > 1 {
			return command{}, errUsage
		}
	default:
		return command{}, fmt.Errorf("%w: unknown action %q", errUsage, rest[0])
	}
	if len(rest) == 2 {
		n, err := strconv.Atoi(rest[1])
		if err != nil || n < 0 {
			return command{}, fmt.Errorf("%w: steps must be a non-negative integer", errUsage)
		}
		cmd.steps = n
	}
	return cmd, nil
}

// execute выполняет действие и печатает итоговое состояние схемы.
func execute(ctx context.Context, s schema, cmd command, out io.Writer) error {
	var err error
	switch cmd.action {
	case "up":
		err = s.MigrateUp(ctx, cmd.steps)
	case "down":
		err = s.MigrateDown(ctx, max(cmd.steps, 1))
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", cmd.action, err)
	}

	state, err := s.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	_, err = fmt.Fprintf(out, "schema version %d: %d applied, %d pending\n", state.Version, state.Applied, state.Pending)
	return err
}

func run(args []string, getenv func(string) string, out io.Writer) error {
	cmd, err := parseCommand(args, getenv)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmd.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, cmd.dsn)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return execute(ctx, store, cmd, out)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if err := run(os.Args[1:], os.Getenv, os.Stdout); err != nil {
		log.WithField("component", "migrate").WithError(err).Error("migration failed")
		os.Exit(1)
	}
}
