// Package app собирает магазин: хранилище, платёжные шлюзы, HTTP API и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/catalog"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/checkout"
	healthcheck "github.com/Gusmack1/Charlesmackaybooks-sub002/internal/health"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/metrics"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/pricing"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/httpapi"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/idempotency"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/orders"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/outbox"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payment/paypal"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payment/stripe"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/service/payments"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/version"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	callbackTokenTTL  = 6 * time.Hour
)

// shop — собранный сервис до запуска серверов.
type shop struct {
	router  *gin.Engine
	health  *healthcheck.Handler
	workers []func(ctx context.Context)
	closers []func()
}

// Run поднимает HTTP API, gRPC health, метрики и воркеры; блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	s, err := build(ctx, cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return err
	}
	defer func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			s.closers[i]()
		}
	}()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, run := range s.workers {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(workerCtx)
		}(run)
	}
	defer func() {
		stopWorkers()
		wg.Wait()
	}()

	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, s.health)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC health слушает %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := func() {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownHTTP(apiSrv, logger)
		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			grpcServer.Stop()
		}
		shutdownHTTP(metricsSrv, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		stop()
		return ctx.Err()
	case err := <-errCh:
		stop()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// build собирает зависимости магазина. Регистрация метрик идёт в registerer.
func build(ctx context.Context, cfg Config, registerer prometheus.Registerer, logger *log.Entry) (*shop, error) {
	s := &shop{}

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	})

	broker, err := initBroker(cfg, logger.WithField("layer", "broker"))
	if err != nil {
		closeAll(s)
		return nil, err
	}
	s.closers = append(s.closers, func() { closeBroker(broker, logger) })

	books, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		closeAll(s)
		return nil, err
	}

	shipping, err := pricing.NewShippingPolicy(cfg.ShippingPolicy)
	if err != nil {
		closeAll(s)
		return nil, err
	}
	calc := pricing.NewCalculator(pricing.DefaultBulkDiscount(), shipping)

	checkoutMetrics := metrics.NewCheckoutMetricsWithRegisterer(registerer)

	sessions := checkout.NewSessions(
		checkout.WithSessionTTL(cfg.SessionTTL),
		checkout.WithCalculator(calc),
		checkout.WithActiveGauge(checkoutMetrics.ActiveSessions()),
	)

	svc := orders.NewService(deps.repo, deps.timelineRepo, deps.outboxRepo, books, calc,
		orders.WithMetrics(checkoutMetrics),
		orders.WithCurrency(cfg.Currency),
	)

	gateway := stripe.NewClient(cfg.StripeSecretKey, stripe.WithMetrics(checkoutMetrics))
	if !gateway.Configured() {
		logger.Warn("stripe secret key is not set, card payments are disabled")
	}

	policy, err := paypal.NewOriginPolicy(cfg.ShopOrigin)
	if err != nil {
		closeAll(s)
		return nil, err
	}
	hub := paypal.NewHub(policy, paypal.WithHubMetrics(checkoutMetrics))

	var signer *paypal.TokenSigner
	if strings.TrimSpace(cfg.PayPalTokenSecret) != "" {
		if signer, err = paypal.NewTokenSigner(cfg.PayPalTokenSecret, callbackTokenTTL); err != nil {
			closeAll(s)
			return nil, err
		}
	}
	builder := paypal.NewURLBuilder(paypal.Config{
		Business:   cfg.PayPalBusiness,
		BaseURL:    cfg.PayPalBaseURL,
		ReturnBase: cfg.ShopOrigin,
	}, signer)
	if !builder.Configured() {
		logger.Warn("paypal business account is not set, paypal payments are disabled")
	}

	verifier := paypal.NewClient(cfg.PayPalPDTToken,
		paypal.WithEndpoint(cfg.PayPalBaseURL),
		paypal.WithVerifierMetrics(checkoutMetrics),
		paypal.WithVerifierLogger(logger.WithField("component", "paypal-verifier")),
	)
	if builder.Configured() && strings.TrimSpace(cfg.PayPalPDTToken) == "" {
		logger.Warn("paypal pdt token is not set, paypal payments are confirmed by ipn only")
	}

	coord := payments.NewCoordinator(svc, gateway, stripe.NewWebhookVerifier(cfg.StripeWebhookSecret), builder, hub, signer,
		payments.WithPayPalVerifier(verifier),
		payments.WithLogger(logger.WithField("component", "payments")),
	)

	gin.SetMode(gin.ReleaseMode)
	handler := httpapi.NewHandler(books, sessions, svc, coord,
		httpapi.WithLogger(logger.WithField("layer", "http")),
		httpapi.WithHTTPMetrics(metrics.NewHTTPMetrics(registerer)),
		httpapi.WithIdempotency(deps.idempotencyRepo, cfg.IdempotencyTTL),
		httpapi.WithSessionMaxAge(cfg.SessionTTL),
		httpapi.WithSecureCookies(cfg.SecureCookies),
	)
	s.router = handler.Router()

	buildInfo := version.Current()
	metrics.RegisterBuildInfo(registerer, buildInfo)
	s.health = healthcheck.NewHandler(buildInfo.Version)
	s.health.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", deps.ping))
	if broker.ping != nil {
		s.health.RegisterChecker("broker", healthcheck.NewOptionalChecker(broker.name, broker.ping))
	}
	s.health.RegisterChecker("outbox", healthcheck.NewOptionalChecker("outbox", func(ctx context.Context) error {
		stats, err := deps.outboxRepo.Stats(ctx)
		if err != nil {
			return err
		}
		if cfg.OutboxMaxPending > 0 && stats.PendingCount > cfg.OutboxMaxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, cfg.OutboxMaxPending)
		}
		return nil
	}))

	s.workers = append(s.workers, sessions.Run, hub.Run)

	if broker.publisher != nil {
		worker := outbox.NewWorker(deps.outboxRepo, broker.publisher,
			outbox.WithDLQPublisher(broker.dlq),
			outbox.WithMetrics(metrics.NewOutboxMetrics(registerer)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		s.workers = append(s.workers, worker.Run)
	} else {
		logger.Info("broker is not configured, order events stay in the outbox")
	}

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithMetrics(metrics.NewCleanupMetrics(registerer)),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	s.workers = append(s.workers, cleanup.Run)

	return s, nil
}

func closeAll(s *shop) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

// metricsMux — служебные ручки: /metrics из gatherer и health-пробы.
func metricsMux(gatherer prometheus.Gatherer, healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// startMetricsServer поднимает metricsMux на addr и гасит его по ctx.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsMux(prometheus.DefaultGatherer, healthHandler),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	context.AfterFunc(ctx, func() { shutdownHTTP(srv, logger) })
	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
