package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

func printSummary(w io.Writer, s summary, mode scenario) {
	fmt.Fprintf(w, "loadtest %s: %d scenarios, %d ok, %d failed (error rate %.4f)\n",
		mode, s.Scenarios, s.Succeeded, s.Failed, s.ErrorRate)
	fmt.Fprintf(w, "elapsed %.2fs, %.2f scenarios/s\n", s.Seconds, s.RPS)
	fmt.Fprintf(w, "scenario ms: min %.2f | p50 %.2f | p95 %.2f | p99 %.2f | max %.2f | avg %.2f\n",
		s.ScenarioMs.Min, s.ScenarioMs.P50, s.ScenarioMs.P95, s.ScenarioMs.P99, s.ScenarioMs.Max, s.ScenarioMs.Avg)

	for _, name := range slices.Sorted(maps.Keys(s.Steps)) {
		if name == scenarioStep {
			continue
		}
		step := s.Steps[name]
		fmt.Fprintf(w, "  %-16s calls %-6d failed %-6d p95 %.2fms\n", name, step.Calls, step.Failed, step.LatencyMs.P95)
	}
}

// saveSummary пишет отчёт в файл; относительный путь не может выходить за рабочий каталог.
// Расширение .yaml или .yml даёт YAML, остальное JSON.
func saveSummary(path string, s summary) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("report path must name a file")
	case clean == "..", strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("report path %q leaves the working directory", path)
	}

	f, err := os.Create(clean)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(clean)) {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		err = enc.Encode(s)
		if closeErr := enc.Close(); err == nil {
			err = closeErr
		}
	default:
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		err = enc.Encode(s)
	}
	return errors.Join(err, f.Close())
}
