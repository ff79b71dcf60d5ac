package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	healthcheck "github.com/Gusmack1/Charlesmackaybooks-sub002/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func localConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.HTTPAddr = freeAddr(t)
	cfg.GRPCAddr = freeAddr(t)
	cfg.MetricsAddr = freeAddr(t)
	return cfg
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	cfg := localConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	waitFor(t, func() bool {
		resp, err := http.Get("http://" + cfg.HTTPAddr + "/api/books")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * shutdownTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_RejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		errPart string
	}{
		{name: "storage driver", mutate: func(c *Config) { c.StorageDriver = "bolt" }, errPart: "unsupported storage driver"},
		{name: "postgres dsn", mutate: func(c *Config) { c.StorageDriver = StorageDriverPostgres }, errPart: EnvPostgresDSN},
		{name: "paypal secret", mutate: func(c *Config) { c.PayPalBusiness = "sales@charlesmackaybooks.com" }, errPart: EnvPayPalTokenSecret},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)

			err := Run(context.Background(), cfg)
			require.ErrorContains(t, err, "invalid config")
			require.ErrorContains(t, err, tc.errPart)
		})
	}
}

func TestBuild_WiresShop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutboxMaxPending = 1

	s, err := build(context.Background(), cfg, prometheus.NewRegistry(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { closeAll(s) })

	// без брокера outbox worker не нужен: sessions, paypal hub, cleanup.
	require.Len(t, s.workers, 3)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/books", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Books []json.RawMessage `json:"books"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.NotEmpty(t, page.Books)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadGateway, rec.Code, "webhook secret is not configured")

	report := s.health.Run(context.Background())
	require.Equal(t, healthcheck.Status("healthy"), report.Checks["storage"].Status)
	require.NotContains(t, report.Checks, "broker")
}

func TestBuild_FailsOnBadDependencies(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "shipping policy", mutate: func(c *Config) { c.ShippingPolicy = "teleport" }},
		{name: "catalog file", mutate: func(c *Config) { c.CatalogPath = "/nonexistent/books.yaml" }},
		{name: "shop origin", mutate: func(c *Config) { c.ShopOrigin = "::not a url" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)

			s, err := build(context.Background(), cfg, prometheus.NewRegistry(), quietLogger())
			require.Error(t, err)
			require.Nil(t, s)
		})
	}
}

func TestCloseAll_RunsInReverse(t *testing.T) {
	var order []int
	s := &shop{closers: []func(){
		func() { order = append(order, 1) },
		func() { order = append(order, 2) },
	}}

	closeAll(s)
	closeAll(s)

	require.Equal(t, []int{2, 1}, order)
}
