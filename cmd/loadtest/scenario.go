package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"
)

// scenario — насколько глубоко покупатель проходит магазин.
type scenario string

const (
	scenarioBrowse   scenario = "browse"
	scenarioBasket   scenario = "basket"
	scenarioCheckout scenario = "checkout"
)

// step — один HTTP-вызов сценария.
type step struct {
	name    string
	method  string
	path    string
	body    any
	headers map[string]string
}

// plan раскладывает сценарий на шаги. Покупатель n получает уникальные email и Idempotency-Key.
func plan(cfg config, n int, runID int64) []step {
	steps := []step{
		{name: "books", method: http.MethodGet, path: "/api/books"},
		{name: "book", method: http.MethodGet, path: "/api/books/" + cfg.bookID},
	}
	if cfg.scenario == scenarioBrowse {
		return steps
	}

	steps = append(steps, step{
		name: "cart_add", method: http.MethodPost, path: "/api/cart/items",
		body: map[string]any{"book_id": cfg.bookID, "quantity": cfg.quantity},
	})
	if cfg.scenario == scenarioBasket {
		return steps
	}

	return append(steps,
		step{name: "checkout_next", method: http.MethodPost, path: "/api/checkout/next"},
		step{
			name: "checkout_address", method: http.MethodPost, path: "/api/checkout/address",
			body: map[string]string{
				"first_name": "Load",
				"last_name":  fmt.Sprintf("Shopper%d", n),
				"email":      fmt.Sprintf("load+%d@example.com", n),
				"address1":   "1 Test Street",
				"city":       "Glasgow",
				"postcode":   "G1 1AA",
				"country":    cfg.country,
			},
		},
		step{
			name: "stripe_intent", method: http.MethodPost, path: "/api/payments/stripe/intent",
			headers: map[string]string{"Idempotency-Key": fmt.Sprintf("lt-%d-%d", runID, n)},
		},
	)
}

// shopper держит свою cookie-сессию, как отдельный браузер.
type shopper struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
	rec     *recorder
}

func newShopper(cfg config, transport http.RoundTripper, rec *recorder) (*shopper, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &shopper{
		http:    &http.Client{Jar: jar, Transport: transport},
		baseURL: cfg.baseURL,
		timeout: cfg.timeout,
		rec:     rec,
	}, nil
}

func (s *shopper) do(ctx context.Context, st step) error {
	body := io.Reader(http.NoBody)
	if st.body != nil {
		raw, err := json.Marshal(st.body)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, st.method, s.baseURL+st.path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range st.headers {
		req.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		s.rec.observe(st.name, time.Since(started), 0)
		return fmt.Errorf("%s: %w", st.name, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	s.rec.observe(st.name, time.Since(started), resp.StatusCode)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s: status %d", st.name, resp.StatusCode)
	}
	return nil
}

// shop проходит сценарий n и останавливается на первом неуспешном шаге.
func shop(ctx context.Context, cfg config, transport http.RoundTripper, n int, runID int64, rec *recorder) (err error) {
	started := time.Now()
	defer func() {
		status := http.StatusOK
		if err != nil {
			status = http.StatusInternalServerError
		}
		rec.observe(scenarioStep, time.Since(started), status)
	}()

	s, err := newShopper(cfg, transport, rec)
	if err != nil {
		return err
	}
	for _, st := range plan(cfg, n, runID) {
		if err := s.do(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// runLoad раздаёт сценарии пулу из cfg.concurrency покупателей.
func runLoad(ctx context.Context, cfg config, transport http.RoundTripper, rec *recorder) {
	runID := time.Now().UnixNano()
	queue := make(chan int, cfg.concurrency)

	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range queue {
				_ = shop(ctx, cfg, transport, n, runID, rec)
			}
		}()
	}
	feed(ctx, queue, cfg)
	wg.Wait()
}

// feed закрывает очередь после cfg.total сценариев или по истечении cfg.duration.
// При заданной длительности total ограничивает прогон, только если указан явно.
func feed(ctx context.Context, queue chan<- int, cfg config) {
	defer close(queue)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	bounded := cfg.duration <= 0 || cfg.totalSet

	for n := 0; !bounded || n < cfg.total; n++ {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case queue <- n:
		}
	}
}
