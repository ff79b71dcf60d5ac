package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/Gusmack1/Charlesmackaybooks-sub002/internal/health"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/metrics"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/version"
)

func TestMetricsMux(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics.RegisterBuildInfo(registry, version.Current())

	var storageDown atomic.Bool
	health := healthcheck.NewHandler("test")
	health.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func(context.Context) error {
		if storageDown.Load() {
			return errors.New("connection refused")
		}
		return nil
	}))

	srv := httptest.NewServer(metricsMux(registry, health))
	defer srv.Close()

	tests := []struct {
		name       string
		path       string
		down       bool
		wantStatus int
		wantBody   string
	}{
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK, wantBody: "shop_build_info"},
		{name: "healthz", path: "/healthz", wantStatus: http.StatusOK, wantBody: `"status":"healthy"`},
		{name: "livez", path: "/livez", wantStatus: http.StatusOK, wantBody: "ok"},
		{name: "readyz", path: "/readyz", wantStatus: http.StatusOK, wantBody: "ready"},
		{name: "readyz storage down", path: "/readyz", down: true, wantStatus: http.StatusServiceUnavailable, wantBody: "not ready"},
		{name: "healthz storage down", path: "/healthz", down: true, wantStatus: http.StatusServiceUnavailable, wantBody: "connection refused"},
		{name: "livez ignores storage", path: "/livez", down: true, wantStatus: http.StatusOK, wantBody: "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storageDown.Store(tt.down)

			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("get %s: %v", tt.path, err)
			}
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status=%d want=%d body=%s", resp.StatusCode, tt.wantStatus, body)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Fatalf("body %q does not contain %q", body, tt.wantBody)
			}
		})
	}
}

func TestStartMetricsServer_StopsOnCancel(t *testing.T) {
	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startMetricsServer(ctx, addr, log.WithField("test", "metrics"), healthcheck.NewHandler("test"))
	if srv == nil {
		t.Fatal("expected server")
	}

	url := "http://" + addr + "/livez"
	waitFor(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	waitFor(t, func() bool {
		_, err := http.Get(url)
		return err != nil
	})
}

func TestShutdownHTTP(t *testing.T) {
	logger := log.WithField("test", "shutdown")

	// nil-сервер просто игнорируется.
	shutdownHTTP(nil, logger)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(listener) }()

	shutdownHTTP(srv, logger)

	select {
	case err := <-served:
		if !errors.Is(err, http.ErrServerClosed) {
			t.Fatalf("unexpected serve result: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()
	return addr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
