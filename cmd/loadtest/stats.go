package main

import (
	"maps"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"
)

// scenarioStep — псевдошаг, в который пишется весь сценарий целиком.
const scenarioStep = "scenario"

type latency struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
	Avg float64 `json:"avg" yaml:"avg"`
	P50 float64 `json:"p50" yaml:"p50"`
	P95 float64 `json:"p95" yaml:"p95"`
	P99 float64 `json:"p99" yaml:"p99"`
}

type stepSummary struct {
	Calls     int64            `json:"calls" yaml:"calls"`
	OK        int64            `json:"ok" yaml:"ok"`
	Failed    int64            `json:"failed" yaml:"failed"`
	ErrorRate float64          `json:"error_rate" yaml:"error_rate"`
	Statuses  map[string]int64 `json:"statuses" yaml:"statuses"`
	LatencyMs latency          `json:"latency_ms" yaml:"latency_ms"`
}

type summary struct {
	StartedAt  time.Time              `json:"started_at" yaml:"started_at"`
	Seconds    float64                `json:"duration_seconds" yaml:"duration_seconds"`
	Scenarios  int64                  `json:"scenarios" yaml:"scenarios"`
	Succeeded  int64                  `json:"succeeded" yaml:"succeeded"`
	Failed     int64                  `json:"failed" yaml:"failed"`
	ErrorRate  float64                `json:"error_rate" yaml:"error_rate"`
	RPS        float64                `json:"rps" yaml:"rps"`
	ScenarioMs latency                `json:"scenario_latency_ms" yaml:"scenario_latency_ms"`
	Steps      map[string]stepSummary `json:"steps" yaml:"steps"`
}

type samples struct {
	failed   int64
	statuses map[string]int64
	millis   []float64
}

// recorder копит ответы по шагам, безопасен для конкурентных покупателей.
type recorder struct {
	mu    sync.Mutex
	steps map[string]*samples
}

func newRecorder() *recorder {
	return &recorder{steps: make(map[string]*samples)}
}

// observe учитывает вызов. status 0 означает, что запрос не дошёл до сервера.
func (r *recorder) observe(step string, took time.Duration, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.steps[step]
	if s == nil {
		s = &samples{statuses: make(map[string]int64)}
		r.steps[step] = s
	}
	if status < 200 || status > 299 {
		s.failed++
	}
	s.statuses[statusLabel(status)]++
	s.millis = append(s.millis, float64(took)/float64(time.Millisecond))
}

func statusLabel(status int) string {
	if status == 0 {
		return "transport_error"
	}
	return strconv.Itoa(status)
}

func (r *recorder) summarize(startedAt time.Time, elapsed time.Duration) summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := summary{
		StartedAt: startedAt.UTC(),
		Seconds:   elapsed.Seconds(),
		Steps:     make(map[string]stepSummary, len(r.steps)),
	}
	for name, s := range r.steps {
		calls := int64(len(s.millis))
		out.Steps[name] = stepSummary{
			Calls:     calls,
			OK:        calls - s.failed,
			Failed:    s.failed,
			ErrorRate: errorRate(s.failed, calls),
			Statuses:  maps.Clone(s.statuses),
			LatencyMs: summarizeLatency(s.millis),
		}
	}

	whole := out.Steps[scenarioStep]
	out.Scenarios = whole.Calls
	out.Succeeded = whole.OK
	out.Failed = whole.Failed
	out.ErrorRate = whole.ErrorRate
	out.ScenarioMs = whole.LatencyMs
	if elapsed > 0 {
		out.RPS = float64(out.Scenarios) / elapsed.Seconds()
	}
	return out
}

func summarizeLatency(values []float64) latency {
	if len(values) == 0 {
		return latency{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var total float64
	for _, v := range sorted {
		total += v
	}
	return latency{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: total / float64(len(sorted)),
		P50: quantile(sorted, 0.50),
		P95: quantile(sorted, 0.95),
		P99: quantile(sorted, 0.99),
	}
}

// quantile интерполирует между соседними рангами отсортированной выборки.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(pos)), int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func errorRate(failed, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
