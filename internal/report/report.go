// Package report turns the results of a load test run into its final,
// immutable Report.
package report

import (
	"math"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/coderunner/loadtest/internal/corpus"
	"github.com/coderunner/loadtest/internal/monitor"
	"github.com/coderunner/loadtest/internal/session"
)

// Config is the run configuration echoed into the report.
type Config struct {
	ServerURL     string
	NumSessions   int
	Mode          string
	RampInterval  time.Duration
	RampBatchSize int
}

// Input is everything Build needs.
type Input struct {
	TestID    string
	StartTime time.Time
	EndTime   time.Time
	Config    Config
	Results   []session.ExecutionResult
	Snapshots []monitor.Snapshot
}

// Report is the aggregate of one run.
type Report struct {
	TestID          string    `json:"test_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	ServerURL       string    `json:"server_url"`
	NumSessions     int       `json:"num_students"`
	Mode            string    `json:"mode"`
	RampInterval    *float64  `json:"ramp_interval"`
	RampBatchSize   *int      `json:"ramp_batch_size"`

	TotalExecutions      int     `json:"total_executions"`
	SuccessfulExecutions int     `json:"successful_executions"`
	FailedExecutions     int     `json:"failed_executions"`
	AvgExecutionTimeMs   float64 `json:"avg_execution_time_ms"`
	MinExecutionTimeMs   float64 `json:"min_execution_time_ms"`
	MaxExecutionTimeMs   float64 `json:"max_execution_time_ms"`
	P50ExecutionTimeMs   float64 `json:"p50_execution_time_ms"`
	P90ExecutionTimeMs   float64 `json:"p90_execution_time_ms"`
	P99ExecutionTimeMs   float64 `json:"p99_execution_time_ms"`

	ExecutionsByLanguage *Breakdown `json:"executions_by_language"`
	ExecutionsByCategory *Breakdown `json:"executions_by_category"`

	ResourceSnapshots []monitor.Snapshot `json:"resource_snapshots"`
	PeakContainers    int                `json:"peak_containers"`
	PeakMemoryMB      float64            `json:"peak_memory_mb"`
	PeakCPUPercent    float64            `json:"peak_cpu_percent"`

	OutputMismatches int                       `json:"output_mismatches"`
	ExecutionResults []session.ExecutionResult `json:"execution_results"`
}

// ModeRamp is the mode name that carries ramp parameters.
const ModeRamp = "ramp"

// Build aggregates in into a Report. It never fails: empty results or
// snapshots produce zeroed statistics.
func Build(in Input) Report {
	r := Report{
		TestID:               in.TestID,
		StartTime:            in.StartTime,
		EndTime:              in.EndTime,
		DurationSeconds:      in.EndTime.Sub(in.StartTime).Seconds(),
		ServerURL:            in.Config.ServerURL,
		NumSessions:          in.Config.NumSessions,
		Mode:                 in.Config.Mode,
		ExecutionsByLanguage: NewBreakdown(),
		ExecutionsByCategory: NewBreakdown(),
		ResourceSnapshots:    append([]monitor.Snapshot{}, in.Snapshots...),
		ExecutionResults:     append([]session.ExecutionResult{}, in.Results...),
	}
	if r.DurationSeconds < 0 {
		r.DurationSeconds = 0
	}
	if in.Config.Mode == ModeRamp {
		interval := in.Config.RampInterval.Seconds()
		batch := in.Config.RampBatchSize
		r.RampInterval = &interval
		r.RampBatchSize = &batch
	}

	hist := hdrhistogram.New(1, 600_000_000, 3)
	var sum float64
	var timed int
	r.MinExecutionTimeMs = math.Inf(1)

	for _, res := range in.Results {
		r.TotalExecutions++
		if res.Success {
			r.SuccessfulExecutions++
		} else {
			r.FailedExecutions++
		}
		r.ExecutionsByLanguage.Add(res.Language, res.Success)
		category := res.Category
		if category == "" {
			category = corpus.CategoryUnknown
		}
		r.ExecutionsByCategory.Add(string(category), res.Success)
		if res.OutputMatched != nil && !*res.OutputMatched {
			r.OutputMismatches++
		}

		ms := res.ExecutionTimeMs
		if ms <= 0 {
			continue
		}
		timed++
		sum += ms
		r.MinExecutionTimeMs = math.Min(r.MinExecutionTimeMs, ms)
		r.MaxExecutionTimeMs = math.Max(r.MaxExecutionTimeMs, ms)

		us := int64(ms * 1000)
		if us < hist.LowestTrackableValue() {
			us = hist.LowestTrackableValue()
		}
		if us > hist.HighestTrackableValue() {
			us = hist.HighestTrackableValue()
		}
		_ = hist.RecordValue(us)
	}

	if timed > 0 {
		r.AvgExecutionTimeMs = sum / float64(timed)
		r.P50ExecutionTimeMs = float64(hist.ValueAtQuantile(50)) / 1000
		r.P90ExecutionTimeMs = float64(hist.ValueAtQuantile(90)) / 1000
		r.P99ExecutionTimeMs = float64(hist.ValueAtQuantile(99)) / 1000
	} else {
		r.MinExecutionTimeMs = 0
	}

	for _, s := range in.Snapshots {
		if s.ContainerCount > r.PeakContainers {
			r.PeakContainers = s.ContainerCount
		}
		r.PeakMemoryMB = math.Max(r.PeakMemoryMB, s.TotalMemoryMB)
		r.PeakCPUPercent = math.Max(r.PeakCPUPercent, s.TotalCPUPercent)
	}

	return r
}

// SuccessRate is the overall success percentage, 0 when nothing ran.
func (r Report) SuccessRate() float64 {
	return Tally{Total: r.TotalExecutions, Success: r.SuccessfulExecutions}.Rate()
}

// FailureRate is the failed share of executions in [0, 1].
func (r Report) FailureRate() float64 {
	if r.TotalExecutions == 0 {
		return 0
	}
	return float64(r.FailedExecutions) / float64(r.TotalExecutions)
}

// TimelinePoint is one snapshot placed relative to the first.
type TimelinePoint struct {
	Seconds    float64 `json:"t"`
	Containers int     `json:"containers"`
	MemoryMB   float64 `json:"memory_mb"`
}

// Timeline returns the snapshots as seconds since the first one.
func (r Report) Timeline() []TimelinePoint {
	points := make([]TimelinePoint, 0, len(r.ResourceSnapshots))
	if len(r.ResourceSnapshots) == 0 {
		return points
	}
	origin := r.ResourceSnapshots[0].Timestamp
	for _, s := range r.ResourceSnapshots {
		points = append(points, TimelinePoint{
			Seconds:    s.Timestamp.Sub(origin).Seconds(),
			Containers: s.ContainerCount,
			MemoryMB:   s.TotalMemoryMB,
		})
	}
	return points
}
