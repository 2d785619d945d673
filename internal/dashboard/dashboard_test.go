package dashboard

import (
	"strings"
	"testing"
	"time"

	"github.com/coderunner/loadtest/internal/metrics"
)

func TestFormatTestParams(t *testing.T) {
	tests := []struct {
		name string
		cfg  TestConfig
		want string
	}{
		{
			name: "burst",
			cfg:  TestConfig{Sessions: 20, Mode: "burst", Timeout: 30 * time.Second},
			want: "Sessions: 20 | Mode: BURST | Timeout: 30s",
		},
		{
			name: "ramp with pacing",
			cfg:  TestConfig{Sessions: 10, Mode: "ramp", RampBatchSize: 2, RampInterval: 5 * time.Second, ConnectRate: 4},
			want: "Sessions: 10 | Mode: RAMP (2 every 5s) | Connect rate: 4/s",
		},
		{
			name: "empty mode",
			cfg:  TestConfig{ConfigFile: "run.yaml"},
			want: "Mode: BURST | Config: run.yaml",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatTestParams(tt.cfg); got != tt.want {
				t.Errorf("formatTestParams() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		planned, completed int64
		want               int
	}{
		{0, 0, 0},
		{20, 0, 0},
		{20, 5, 25},
		{3, 2, 66},
		{4, 4, 100},
		{4, 6, 100},
	}
	for _, tt := range tests {
		got := progressPercent(metrics.Stats{Planned: tt.planned, Completed: tt.completed})
		if got != tt.want {
			t.Errorf("progressPercent(%d/%d) = %d, want %d", tt.completed, tt.planned, got, tt.want)
		}
	}
}

func TestPushHistoryCapsLength(t *testing.T) {
	var h []float64
	for i := 0; i < historySize+5; i++ {
		h = pushHistory(h, float64(i))
	}
	if len(h) != historySize {
		t.Fatalf("len = %d, want %d", len(h), historySize)
	}
	if h[0] != 5 || h[len(h)-1] != float64(historySize+4) {
		t.Errorf("history window = [%v..%v]", h[0], h[len(h)-1])
	}
}

func TestFormatRecentRowsNewestFirst(t *testing.T) {
	rows := formatRecentRows([]metrics.Execution{
		{Session: "user-01", Language: "python", Program: "hello_world", Success: true, ExecutionTime: 120 * time.Millisecond},
		{Session: "user-02", Language: "c", Program: "loop", Reason: metrics.ReasonTimeout, ExecutionTime: 30 * time.Second},
	})
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if !strings.Contains(rows[0], "user-02") || !strings.Contains(rows[0], "(timeout)") {
		t.Errorf("first row = %q, want newest failure", rows[0])
	}
	if !strings.Contains(rows[1], "python/hello_world - 120ms") {
		t.Errorf("second row = %q", rows[1])
	}
}

func TestFormatRecentRowsEmpty(t *testing.T) {
	rows := formatRecentRows(nil)
	if len(rows) != 1 || rows[0] != "Awaiting data" {
		t.Errorf("rows = %v", rows)
	}
}

func TestFormatReasonRows(t *testing.T) {
	if rows := formatReasonRows(metrics.Stats{}); len(rows) != 1 || !strings.Contains(rows[0], "No failures") {
		t.Errorf("empty rows = %v", rows)
	}

	rows := formatReasonRows(metrics.Stats{
		ConnectFailures: 2,
		FailureReasons:  map[string]int{metrics.ReasonTimeout: 1, metrics.ReasonExitCode: 3},
	})
	want := []string{"connect failed", metrics.ReasonExitCode, metrics.ReasonTimeout}
	if len(rows) != len(want) {
		t.Fatalf("rows = %v", rows)
	}
	for i, w := range want {
		if !strings.Contains(rows[i], w) {
			t.Errorf("row %d = %q, want it to mention %q", i, rows[i], w)
		}
	}
}

func TestSummaryAndCounters(t *testing.T) {
	stats := metrics.Stats{Planned: 4, Connected: 3, ConnectFailures: 1, Completed: 2, Successes: 1, Failures: 1}
	summary := summaryText(TestConfig{Target: "http://localhost:3000", Sessions: 4, Mode: "burst"}, stats, 1500*time.Millisecond)
	if !strings.Contains(summary, "Target: http://localhost:3000") || !strings.Contains(summary, "Success Rate: 50.0%") {
		t.Errorf("summary = %q", summary)
	}
	counters := countersText(stats)
	if !strings.Contains(counters, "Connect failures:  1") {
		t.Errorf("counters = %q", counters)
	}
}

func TestCollectorFeedsDashboardViews(t *testing.T) {
	c := metrics.NewCollector(2)
	c.Start()
	c.RecordConnect(true)
	c.RecordStarted()
	c.RecordExecution(metrics.Execution{Session: "user-01", Language: "python", Program: "hello_world", Success: true, ExecutionTime: 50 * time.Millisecond})

	stats := c.Stats(time.Second)
	if progressPercent(stats) != 50 {
		t.Errorf("progress = %d, want 50", progressPercent(stats))
	}
	if rows := formatRecentRows(c.Recent()); !strings.Contains(rows[0], "user-01") {
		t.Errorf("recent rows = %v", rows)
	}
}
