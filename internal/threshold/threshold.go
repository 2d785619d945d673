// Package threshold evaluates pass/fail assertions against a finished report.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/coderunner/loadtest/internal/report"
)

// Supported metric names.
const (
	MetricExecTime   = "exec_time"
	MetricExecFailed = "exec_failed"
	MetricExecutions = "executions"
	MetricContainers = "containers"
	MetricMemory     = "memory"
	MetricCPU        = "cpu"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "exec_time", "exec_failed"
	Aggregate string  // e.g., "p99", "avg", "rate", "peak"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against a report.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the provided report.
func (e *Evaluator) Evaluate(r report.Report) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, e.evaluateOne(t, r))
	}
	return results
}

// AllPassed reports whether every result passed. No results means pass.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateOne(t Threshold, r report.Report) Result {
	actual, err := extractMetricValue(t, r)
	if err != nil {
		return Result{
			Threshold: t,
			Actual:    0,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   message,
	}
}

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "exec_time:p99 < 5000"      (execution time percentile in ms)
// - "exec_time:avg < 1500"      (average execution time in ms)
// - "exec_failed:rate < 0.05"   (failure rate as decimal)
// - "exec_failed:count < 3"     (failure count)
// - "executions:count >= 20"    (finished executions)
// - "containers:peak <= 25"     (peak container count)
// - "memory:peak < 4096"        (peak memory in MB)
// - "cpu:peak < 400"            (peak summed CPU percent)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'exec_time:p99 < 5000')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	aggregates, ok := supported[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: exec_time, exec_failed, executions, containers, memory, cpu)", metric)
	}
	if !contains(aggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(aggregates, ", "))
	}

	if !isValidOperator(operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

var supported = map[string][]string{
	MetricExecTime:   {"avg", "mean", "min", "max", "p50", "p90", "p99"},
	MetricExecFailed: {"rate", "count"},
	MetricExecutions: {"count", "rate"},
	MetricContainers: {"peak"},
	MetricMemory:     {"peak"},
	MetricCPU:        {"peak"},
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func isValidOperator(operator string) bool {
	return contains([]string{"<", "<=", ">", ">=", "=="}, operator)
}

func extractMetricValue(t Threshold, r report.Report) (float64, error) {
	switch t.Metric {
	case MetricExecTime:
		return extractExecTime(t.Aggregate, r)
	case MetricExecFailed:
		switch t.Aggregate {
		case "count":
			return float64(r.FailedExecutions), nil
		case "rate":
			return r.FailureRate(), nil
		}
	case MetricExecutions:
		switch t.Aggregate {
		case "count":
			return float64(r.TotalExecutions), nil
		case "rate":
			if r.DurationSeconds <= 0 {
				return 0, nil
			}
			return float64(r.TotalExecutions) / r.DurationSeconds, nil
		}
	case MetricContainers:
		if t.Aggregate == "peak" {
			return float64(r.PeakContainers), nil
		}
	case MetricMemory:
		if t.Aggregate == "peak" {
			return r.PeakMemoryMB, nil
		}
	case MetricCPU:
		if t.Aggregate == "peak" {
			return r.PeakCPUPercent, nil
		}
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
	return 0, fmt.Errorf("unsupported aggregate %q for %s", t.Aggregate, t.Metric)
}

func extractExecTime(aggregate string, r report.Report) (float64, error) {
	switch aggregate {
	case "p50":
		return r.P50ExecutionTimeMs, nil
	case "p90":
		return r.P90ExecutionTimeMs, nil
	case "p99":
		return r.P99ExecutionTimeMs, nil
	case "avg", "mean":
		return r.AvgExecutionTimeMs, nil
	case "min":
		return r.MinExecutionTimeMs, nil
	case "max":
		return r.MaxExecutionTimeMs, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for exec_time", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
