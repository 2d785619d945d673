package report

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/coderunner/loadtest/internal/corpus"
	"github.com/coderunner/loadtest/internal/monitor"
	"github.com/coderunner/loadtest/internal/session"
)

func result(lang string, cat corpus.Category, success bool, ms float64) session.ExecutionResult {
	return session.ExecutionResult{Language: lang, Category: cat, Success: success, ExecutionTimeMs: ms}
}

func TestBuildWithZeroResults(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := Build(Input{
		TestID:    "loadtest-burst-20260102-030405",
		StartTime: start,
		EndTime:   start.Add(1500 * time.Millisecond),
		Config:    Config{ServerURL: "http://localhost:3000", NumSessions: 5, Mode: "burst"},
	})

	if r.TotalExecutions != 0 || r.SuccessfulExecutions != 0 || r.FailedExecutions != 0 {
		t.Errorf("expected zero counts, got %+v", r)
	}
	if r.AvgExecutionTimeMs != 0 || r.MinExecutionTimeMs != 0 || r.MaxExecutionTimeMs != 0 || r.P99ExecutionTimeMs != 0 {
		t.Errorf("expected zero timing, got avg %v min %v max %v", r.AvgExecutionTimeMs, r.MinExecutionTimeMs, r.MaxExecutionTimeMs)
	}
	if r.SuccessRate() != 0 || r.FailureRate() != 0 {
		t.Errorf("rates should be 0 for an empty run")
	}
	if r.PeakContainers != 0 || r.PeakMemoryMB != 0 {
		t.Errorf("peaks should default to 0")
	}
	if r.DurationSeconds != 1.5 {
		t.Errorf("duration = %v, want 1.5", r.DurationSeconds)
	}
	if r.RampInterval != nil || r.RampBatchSize != nil {
		t.Error("burst reports must not carry ramp parameters")
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"executions_by_language":{}`, `"resource_snapshots":[]`, `"execution_results":[]`, `"ramp_interval":null`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON missing %s", want)
		}
	}
}

func TestBuildCountsAndTiming(t *testing.T) {
	results := []session.ExecutionResult{
		result("python", corpus.CategoryQuick, true, 100),
		result("javascript", corpus.CategoryQuick, true, 300),
		result("python", corpus.CategoryCPUIntensive, false, 0),
		result("java", corpus.CategoryMemory, false, 200),
	}
	r := Build(Input{Results: results, Config: Config{Mode: "burst"}})

	if r.TotalExecutions != 4 || r.SuccessfulExecutions != 2 || r.FailedExecutions != 2 {
		t.Errorf("counts = %d/%d/%d", r.TotalExecutions, r.SuccessfulExecutions, r.FailedExecutions)
	}
	if r.AvgExecutionTimeMs != 200 {
		t.Errorf("avg = %v, want 200 (zero-time result excluded)", r.AvgExecutionTimeMs)
	}
	if r.MinExecutionTimeMs != 100 || r.MaxExecutionTimeMs != 300 {
		t.Errorf("min/max = %v/%v", r.MinExecutionTimeMs, r.MaxExecutionTimeMs)
	}
	if math.Abs(r.P50ExecutionTimeMs-200) > 1 {
		t.Errorf("p50 = %v, want ~200", r.P50ExecutionTimeMs)
	}
	if r.SuccessRate() != 50 {
		t.Errorf("success rate = %v", r.SuccessRate())
	}
}

func TestBuildBreakdownsPreserveFirstSeenOrder(t *testing.T) {
	results := []session.ExecutionResult{
		result("java", corpus.CategoryMemory, true, 1),
		result("python", corpus.CategoryQuick, false, 1),
		result("java", corpus.CategoryQuick, true, 1),
		result("cpp", "", true, 1),
	}
	r := Build(Input{Results: results})

	keys := r.ExecutionsByLanguage.Keys()
	if strings.Join(keys, ",") != "java,python,cpp" {
		t.Errorf("language order = %v", keys)
	}
	if got := r.ExecutionsByLanguage.Get("java"); got != (Tally{Total: 2, Success: 2}) {
		t.Errorf("java tally = %+v", got)
	}
	if got := r.ExecutionsByLanguage.Get("go"); got != (Tally{}) {
		t.Errorf("unseen key should be zero, got %+v", got)
	}
	if got := r.ExecutionsByCategory.Get("quick"); got != (Tally{Total: 2, Success: 1, Failed: 1}) {
		t.Errorf("quick tally = %+v", got)
	}

	data, err := json.Marshal(r.ExecutionsByLanguage)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"java":{"total":2,"success":2,"failed":0},"python":{"total":1,"success":0,"failed":1},"cpp":{"total":1,"success":1,"failed":0}}`
	if string(data) != want {
		t.Errorf("JSON = %s\nwant %s", data, want)
	}
}

func TestBuildPeaksAndTimeline(t *testing.T) {
	base := time.Unix(1700000000, 0)
	snaps := []monitor.Snapshot{
		{Timestamp: base, ContainerCount: 1, TotalMemoryMB: 100, TotalCPUPercent: 5},
		{Timestamp: base.Add(2 * time.Second), ContainerCount: 4, TotalMemoryMB: 300, TotalCPUPercent: 80},
		{Timestamp: base.Add(4 * time.Second), ContainerCount: 2, TotalMemoryMB: 450, TotalCPUPercent: 20},
	}
	r := Build(Input{Snapshots: snaps})

	if r.PeakContainers != 4 || r.PeakMemoryMB != 450 || r.PeakCPUPercent != 80 {
		t.Errorf("peaks = %d / %v / %v", r.PeakContainers, r.PeakMemoryMB, r.PeakCPUPercent)
	}
	tl := r.Timeline()
	if len(tl) != 3 || tl[0].Seconds != 0 || tl[2].Seconds != 4 || tl[1].Containers != 4 {
		t.Errorf("timeline = %+v", tl)
	}
}

func TestBuildRampParameters(t *testing.T) {
	r := Build(Input{Config: Config{Mode: ModeRamp, RampInterval: 5 * time.Second, RampBatchSize: 2}})
	if r.RampInterval == nil || *r.RampInterval != 5 {
		t.Errorf("ramp interval = %v", r.RampInterval)
	}
	if r.RampBatchSize == nil || *r.RampBatchSize != 2 {
		t.Errorf("ramp batch size = %v", r.RampBatchSize)
	}
}

func TestBuildCountsOutputMismatches(t *testing.T) {
	no, yes := false, true
	results := []session.ExecutionResult{
		{Language: "python", Success: true, OutputMatched: &no},
		{Language: "python", Success: true, OutputMatched: &yes},
		{Language: "python", Success: true},
	}
	if got := Build(Input{Results: results}).OutputMismatches; got != 1 {
		t.Errorf("mismatches = %d, want 1", got)
	}
}

func TestBuildDoesNotAliasInputs(t *testing.T) {
	results := []session.ExecutionResult{result("python", corpus.CategoryQuick, true, 10)}
	r := Build(Input{Results: results})
	results[0].Language = "changed"
	if r.ExecutionResults[0].Language != "python" {
		t.Error("report shares storage with its input")
	}
}

func TestTallyRate(t *testing.T) {
	if (Tally{}).Rate() != 0 {
		t.Error("empty tally rate should be 0")
	}
	if got := (Tally{Total: 4, Success: 3, Failed: 1}).Rate(); got != 75 {
		t.Errorf("rate = %v, want 75", got)
	}
}
