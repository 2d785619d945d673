package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/coderunner/loadtest/internal/report"
	"github.com/coderunner/loadtest/internal/threshold"
)

const rule = "============================================================"

// PrintBanner outputs the run header shown before any session starts.
func PrintBanner(w io.Writer, testID, server string, sessions int, mode string, rampBatch int, rampInterval float64) {
	fmt.Fprintf(w, "\n%s\n", rule)
	fmt.Fprintln(w, "  CodeRunner Load Test")
	fmt.Fprintf(w, "  Test ID: %s\n", testID)
	fmt.Fprintf(w, "  Server: %s\n", server)
	fmt.Fprintf(w, "  Sessions: %d\n", sessions)
	fmt.Fprintf(w, "  Mode: %s\n", strings.ToUpper(mode))
	if mode == report.ModeRamp {
		fmt.Fprintf(w, "  Ramp: %d users every %gs\n", rampBatch, rampInterval)
	}
	fmt.Fprintf(w, "%s\n\n", rule)
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r report.Report) {
	fmt.Fprintf(w, "\n%s\n", rule)
	fmt.Fprintln(w, "  Test Complete!")
	if r.TotalExecutions > 0 {
		fmt.Fprintf(w, "  Success Rate: %d/%d (%.1f%%)\n",
			r.SuccessfulExecutions, r.TotalExecutions, r.SuccessRate())
	} else {
		fmt.Fprintln(w, "  No executions")
	}
	fmt.Fprintf(w, "  Avg Execution Time: %.0fms\n", r.AvgExecutionTimeMs)
	fmt.Fprintf(w, "  Peak Containers: %d\n", r.PeakContainers)
	fmt.Fprintf(w, "  Peak Memory: %.1fMB\n", r.PeakMemoryMB)
	fmt.Fprintf(w, "%s\n", rule)

	fmt.Fprintln(w, "\nExecution Time:")
	fmt.Fprintf(w, "  Min:             %.0fms\n", r.MinExecutionTimeMs)
	fmt.Fprintf(w, "  Max:             %.0fms\n", r.MaxExecutionTimeMs)
	fmt.Fprintf(w, "  Mean:            %.0fms\n", r.AvgExecutionTimeMs)
	fmt.Fprintf(w, "  P50:             %.0fms\n", r.P50ExecutionTimeMs)
	fmt.Fprintf(w, "  P90:             %.0fms\n", r.P90ExecutionTimeMs)
	fmt.Fprintf(w, "  P99:             %.0fms\n", r.P99ExecutionTimeMs)

	writeBreakdown(w, "By Language", r.ExecutionsByLanguage)
	writeBreakdown(w, "By Category", r.ExecutionsByCategory)

	if r.OutputMismatches > 0 {
		fmt.Fprintf(w, "\nOutput mismatches: %d\n", r.OutputMismatches)
	}
	fmt.Fprintln(w)
}

func writeBreakdown(w io.Writer, title string, b *report.Breakdown) {
	if b == nil || b.Len() == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, e := range b.Entries() {
		fmt.Fprintf(w, "  - %s: total=%d, success=%d, failed=%d (%.1f%%)\n",
			e.Key, e.Total, e.Success, e.Failed, e.Rate())
	}
}

// PrintThresholds outputs one line per evaluated threshold.
func PrintThresholds(w io.Writer, results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	passed := 0
	for _, r := range results {
		if r.Pass {
			passed++
		}
	}
	fmt.Fprintf(w, "Thresholds (%d/%d passed):\n", passed, len(results))
	for _, r := range results {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
	fmt.Fprintln(w)
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r report.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
