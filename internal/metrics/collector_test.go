package metrics_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/coderunner/loadtest/internal/metrics"
)

func TestCollectorExecutionStats(t *testing.T) {
	c := metrics.NewCollector(5)

	for _, ms := range []int{10, 20, 30, 40, 50} {
		c.RecordStarted()
		c.RecordExecution(metrics.Execution{Success: true, ExecutionTime: time.Duration(ms) * time.Millisecond})
	}

	stats := c.Stats(0)

	if stats.Completed != 5 || stats.Successes != 5 || stats.Failures != 0 {
		t.Errorf("unexpected counts %+v", stats)
	}
	if stats.Running != 0 {
		t.Errorf("expected no running executions, got %d", stats.Running)
	}
	if stats.MinExecTime != 10*time.Millisecond {
		t.Errorf("expected min 10ms, got %s", stats.MinExecTime)
	}
	if stats.MaxExecTime != 50*time.Millisecond {
		t.Errorf("expected max 50ms, got %s", stats.MaxExecTime)
	}
	if stats.MeanExecTime != 30*time.Millisecond {
		t.Errorf("expected mean 30ms, got %s", stats.MeanExecTime)
	}
}

func TestPercentilesCalculations(t *testing.T) {
	c := metrics.NewCollector(100)

	for i := 1; i <= 100; i++ {
		c.RecordExecution(metrics.Execution{Success: true, ExecutionTime: time.Duration(i) * time.Millisecond})
	}

	stats := c.Stats(0)
	if stats.P50ExecTime < 49*time.Millisecond || stats.P50ExecTime > 51*time.Millisecond {
		t.Errorf("expected P50 ~50ms, got %s", stats.P50ExecTime)
	}
	if stats.P90ExecTime < 89*time.Millisecond || stats.P90ExecTime > 91*time.Millisecond {
		t.Errorf("expected P90 ~90ms, got %s", stats.P90ExecTime)
	}
	if stats.P99ExecTime < 98*time.Millisecond || stats.P99ExecTime > 100*time.Millisecond {
		t.Errorf("expected P99 ~99ms, got %s", stats.P99ExecTime)
	}
}

func TestUntimedExecutionsAreCountedButNotTimed(t *testing.T) {
	c := metrics.NewCollector(2)
	c.RecordExecution(metrics.Execution{Success: false, Reason: metrics.ReasonErrorEvent})
	c.RecordExecution(metrics.Execution{Success: true, ExecutionTime: 40 * time.Millisecond})

	stats := c.Stats(time.Second)
	if stats.Completed != 2 {
		t.Errorf("completed = %d, want 2", stats.Completed)
	}
	if stats.MinExecTime != 40*time.Millisecond || stats.MeanExecTime != 40*time.Millisecond {
		t.Errorf("zero-time execution leaked into timing: min %s mean %s", stats.MinExecTime, stats.MeanExecTime)
	}
	if stats.FailureReasons[metrics.ReasonErrorEvent] != 1 {
		t.Errorf("failure reasons = %v", stats.FailureReasons)
	}
	if stats.ExecutionsPerSec != 2 {
		t.Errorf("executions/sec = %v, want 2", stats.ExecutionsPerSec)
	}
}

func TestConnectAndResourceTracking(t *testing.T) {
	c := metrics.NewCollector(3)
	c.RecordConnect(true)
	c.RecordConnect(true)
	c.RecordConnect(false)
	c.RecordResources(4, 512, 30)
	c.RecordResources(2, 256, 10)

	stats := c.Stats(0)
	if stats.Connected != 2 || stats.ConnectFailures != 1 {
		t.Errorf("connected %d / failures %d", stats.Connected, stats.ConnectFailures)
	}
	if stats.Containers != 2 || stats.MemoryMB != 256 {
		t.Errorf("latest resources = %d / %v", stats.Containers, stats.MemoryMB)
	}
	if stats.PeakContainers != 4 || stats.PeakMemoryMB != 512 {
		t.Errorf("peaks = %d / %v", stats.PeakContainers, stats.PeakMemoryMB)
	}
}

func TestRecentKeepsLastExecutions(t *testing.T) {
	c := metrics.NewCollector(20)
	for i := 0; i < 15; i++ {
		c.RecordExecution(metrics.Execution{Session: string(rune('a' + i)), Success: true})
	}
	recent := c.Recent()
	if len(recent) != 10 {
		t.Fatalf("recent has %d entries, want 10", len(recent))
	}
	if recent[0].Session != "f" || recent[9].Session != "o" {
		t.Errorf("unexpected window %q..%q", recent[0].Session, recent[9].Session)
	}
}

func TestSortedReasons(t *testing.T) {
	c := metrics.NewCollector(4)
	c.RecordExecution(metrics.Execution{Reason: metrics.ReasonTimeout})
	c.RecordExecution(metrics.Execution{Reason: metrics.ReasonExitCode})
	c.RecordExecution(metrics.Execution{Reason: metrics.ReasonExitCode})
	c.RecordExecution(metrics.Execution{})

	got := c.Stats(0).SortedReasons()
	want := []string{metrics.ReasonExitCode, metrics.ReasonOther, metrics.ReasonTimeout}
	if len(got) != len(want) {
		t.Fatalf("reasons = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reasons[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStatsJSONSchema(t *testing.T) {
	c := metrics.NewCollector(2)
	c.RecordExecution(metrics.Execution{Success: true, ExecutionTime: 15 * time.Millisecond})

	data, err := json.Marshal(c.Stats(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("failed to marshal stats: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	for _, field := range []string{"planned", "completed", "successes", "failures", "p50_exec_time_ms", "p99_exec_time_ms", "executions_per_sec", "peak_containers"} {
		if _, ok := parsed[field]; !ok {
			t.Errorf("missing field %q in JSON output", field)
		}
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := metrics.NewCollector(1000)

	var wg sync.WaitGroup
	workers := 10
	perWorker := 100

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				c.RecordStarted()
				c.RecordExecution(metrics.Execution{Success: j%2 == 0, ExecutionTime: time.Millisecond})
			}
		}()
	}
	wg.Wait()

	stats := c.Stats(0)
	if stats.Completed != int64(workers*perWorker) {
		t.Errorf("expected %d completed, got %d", workers*perWorker, stats.Completed)
	}
	if stats.Successes != stats.Failures {
		t.Errorf("successes %d != failures %d", stats.Successes, stats.Failures)
	}
}
