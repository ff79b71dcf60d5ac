// Команда shop-service запускает магазин: HTTP API, gRPC health, метрики и фоновые воркеры.
// Настройки читаются из переменных окружения SHOP_*.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/app"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/version"
)

// configureLogging выставляет формат и уровень стандартного логгера.
// Неизвестный уровень оставляет info и возвращается ошибкой.
func configureLogging(logger *log.Logger, level string, jsonOutput bool) error {
	if jsonOutput {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	lvl, err := log.ParseLevel(level)
	if err != nil {
		logger.SetLevel(log.InfoLevel)
		return fmt.Errorf("log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)
	return nil
}

func run(ctx context.Context, args []string, lookup app.EnvLookup, stdout io.Writer) error {
	fs := flag.NewFlagSet("shop-service", flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "print build information and exit")
	jsonLogs := fs.Bool("log-json", false, "write logs as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	build := version.Current()
	if *showVersion {
		_, err := fmt.Fprintln(stdout, build.String())
		return err
	}

	cfg, warnings := app.LoadConfigFromEnv(lookup)
	if err := configureLogging(log.StandardLogger(), cfg.LogLevel, *jsonLogs); err != nil {
		log.WithError(err).Warn("falling back to info level")
	}
	for _, w := range warnings {
		log.WithError(w).Warn("ignoring environment value")
	}

	log.WithFields(log.Fields{
		"version": build.Version,
		"commit":  build.Commit,
		"http":    cfg.HTTPAddr,
		"grpc":    cfg.GRPCAddr,
		"metrics": cfg.MetricsAddr,
		"storage": cfg.StorageDriver,
		"broker":  cfg.Broker,
	}).Info("магазин запускается")

	err := app.Run(ctx, cfg)
	if errors.Is(err, context.Canceled) {
		log.Info("магазин остановлен")
		return nil
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.LookupEnv, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.WithError(err).Fatal("магазин завершился с ошибкой")
	}
}
