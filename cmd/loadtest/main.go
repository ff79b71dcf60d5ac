// Команда loadtest гоняет покупательские сценарии против HTTP API магазина
// и печатает сводку по задержкам и ошибкам.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	scenario    scenario
	bookID      string
	quantity    int
	country     string
	reportPath  string
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	cfg := config{}
	var mode string
	fs.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "shop HTTP API address")
	fs.IntVar(&cfg.total, "total", 200, "scenarios to run; with -duration an explicit value caps the run")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for a fixed time instead of a fixed count")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "concurrent shoppers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", string(scenarioBasket), "browse | basket | checkout")
	fs.StringVar(&cfg.bookID, "book", "beardmore-aviation", "book id to put into the cart")
	fs.IntVar(&cfg.quantity, "quantity", 1, "copies per cart")
	fs.StringVar(&cfg.country, "country", "GB", "delivery country in checkout mode")
	fs.StringVar(&cfg.reportPath, "output", "", "write the summary to a .json or .yaml file")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.totalSet = cfg.totalSet || f.Name == "total" })

	cfg.scenario = scenario(strings.ToLower(strings.TrimSpace(mode)))
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.bookID = strings.TrimSpace(cfg.bookID)

	var errs []error
	switch cfg.scenario {
	case scenarioBrowse, scenarioBasket, scenarioCheckout:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", mode))
	}
	if cfg.baseURL == "" {
		errs = append(errs, errors.New("-base-url is required"))
	}
	if cfg.duration < 0 {
		errs = append(errs, errors.New("-duration cannot be negative"))
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		errs = append(errs, errors.New("-total must be positive without -duration"))
	}
	if cfg.concurrency <= 0 {
		errs = append(errs, errors.New("-concurrency must be positive"))
	}
	if cfg.timeout <= 0 {
		errs = append(errs, errors.New("-timeout must be positive"))
	}
	if cfg.quantity <= 0 {
		errs = append(errs, errors.New("-quantity must be positive"))
	}
	if cfg.bookID == "" {
		errs = append(errs, errors.New("-book is required"))
	}
	return cfg, errors.Join(errs...)
}

func main() {
	logger := log.WithField("component", "loadtest")

	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		logger.WithError(err).Fatal("invalid flags")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := newRecorder()
	started := time.Now()
	runLoad(ctx, cfg, http.DefaultTransport, rec)
	result := rec.summarize(started, time.Since(started))

	printSummary(os.Stdout, result, cfg.scenario)
	if cfg.reportPath != "" {
		if err := saveSummary(cfg.reportPath, result); err != nil {
			logger.WithError(err).Fatal("failed to save report")
		}
		logger.WithField("path", cfg.reportPath).Info("report saved")
	}
	if result.Failed > 0 {
		logger.WithField("failed", result.Failed).Error("some scenarios failed")
		os.Exit(1)
	}
}
