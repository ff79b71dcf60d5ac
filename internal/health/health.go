// Package health отдаёт /healthz, /livez и /readyz магазина.
//
// Проверки бывают критичные (хранилище) и необязательные (брокер, backlog outbox).
// Упавшая критичная проверка снимает готовность, необязательная только помечает сервис degraded.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity упорядочивает статусы от лучшего к худшему.
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

type Check struct {
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	Message    string        `json:"message,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
}

// Response — тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type Checker interface {
	Check(ctx context.Context) Check
}

type namedChecker struct {
	name    string
	checker Checker
}

// Handler хранит зарегистрированные проверки.
type Handler struct {
	mu      sync.RWMutex
	checks  []namedChecker
	version string
	timeout time.Duration
	started time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{version: version, timeout: defaultCheckTimeout, started: time.Now()}
}

// RegisterChecker добавляет проверку; повторное имя заменяет прежнюю.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry := namedChecker{name: name, checker: checker}
	i, found := slices.BinarySearchFunc(h.checks, name, func(c namedChecker, name string) int {
		switch {
		case c.name < name:
			return -1
		case c.name > name:
			return 1
		}
		return 0
	})
	if found {
		h.checks[i] = entry
		return
	}
	h.checks = slices.Insert(h.checks, i, entry)
}

// Run запускает все проверки одновременно под общим таймаутом.
func (h *Handler) Run(ctx context.Context) Response {
	h.mu.RLock()
	checks := slices.Clone(h.checks)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]Check, len(checks))
	var wg sync.WaitGroup
	wg.Add(len(checks))
	for i, c := range checks {
		go func() {
			defer wg.Done()
			results[i] = c.checker.Check(ctx)
		}()
	}
	wg.Wait()

	resp := Response{
		Status:        StatusHealthy,
		Timestamp:     time.Now().UTC(),
		Checks:        make(map[string]Check, len(checks)),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	for i, c := range checks {
		resp.Checks[c.name] = results[i]
		if results[i].Status.severity() > resp.Status.severity() {
			resp.Status = results[i].Status
		}
	}
	return resp
}

// ServeHTTP отдаёт полный отчёт; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Run(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(resp.Status))
	_ = json.NewEncoder(w).Encode(resp)
}

func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

// ReadinessHandler снимает готовность только из-за критичных проверок.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	code := httpStatus(h.Run(r.Context()).Status)
	if code != http.StatusOK {
		writeText(w, code, "not ready")
		return
	}
	writeText(w, code, "ready")
}

func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// SimpleChecker превращает функцию в Checker.
type SimpleChecker struct {
	name   string
	fn     func(ctx context.Context) error
	onFail Status
}

// NewSimpleChecker — критичная проверка: ошибка даёт unhealthy.
func NewSimpleChecker(name string, fn func(ctx context.Context) error) *SimpleChecker {
	return &SimpleChecker{name: name, fn: fn, onFail: StatusUnhealthy}
}

// NewOptionalChecker — необязательная проверка: ошибка даёт degraded.
func NewOptionalChecker(name string, fn func(ctx context.Context) error) *SimpleChecker {
	return &SimpleChecker{name: name, fn: fn, onFail: StatusDegraded}
}

func (c *SimpleChecker) Check(ctx context.Context) Check {
	started := time.Now()
	err := c.fn(ctx)
	elapsed := time.Since(started)

	res := Check{Name: c.name, Status: StatusHealthy, Duration: elapsed, DurationMs: elapsed.Milliseconds()}
	if err != nil {
		res.Status = c.onFail
		res.Message = err.Error()
	}
	return res
}
