package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const recentCapacity = 10

// Failure reasons reported in Stats.FailureReasons.
const (
	ReasonTimeout     = "timeout"
	ReasonErrorEvent  = "error event"
	ReasonExitCode    = "non-zero exit"
	ReasonInterrupted = "interrupted"
	ReasonOther       = "other"
)

// Execution is one finished submission as seen by the live view.
type Execution struct {
	Session       string
	Language      string
	Program       string
	Success       bool
	ExecutionTime time.Duration
	Reason        string
	At            time.Time
}

// Collector records session progress and execution timings.
type Collector struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram

	planned         int64
	connected       int64
	connectFailures int64
	running         int64
	successes       int64
	failures        int64
	reasons         map[string]int64

	minExec time.Duration
	maxExec time.Duration
	sumExec time.Duration
	timed   int64

	containers     int
	memoryMB       float64
	cpuPercent     float64
	peakContainers int
	peakMemoryMB   float64

	recent []Execution
	start  time.Time
}

// Stats is a point-in-time view of the collector.
type Stats struct {
	Planned         int64          `json:"planned"`
	Connected       int64          `json:"connected"`
	ConnectFailures int64          `json:"connect_failures"`
	Running         int64          `json:"running"`
	Completed       int64          `json:"completed"`
	Successes       int64          `json:"successes"`
	Failures        int64          `json:"failures"`
	FailureReasons  map[string]int `json:"failure_reasons,omitempty"`

	MinExecTime  time.Duration `json:"-"`
	MaxExecTime  time.Duration `json:"-"`
	MeanExecTime time.Duration `json:"-"`
	P50ExecTime  time.Duration `json:"-"`
	P90ExecTime  time.Duration `json:"-"`
	P99ExecTime  time.Duration `json:"-"`
	Duration     time.Duration `json:"-"`

	MinExecTimeMs    float64 `json:"min_exec_time_ms"`
	MaxExecTimeMs    float64 `json:"max_exec_time_ms"`
	MeanExecTimeMs   float64 `json:"mean_exec_time_ms"`
	P50ExecTimeMs    float64 `json:"p50_exec_time_ms"`
	P90ExecTimeMs    float64 `json:"p90_exec_time_ms"`
	P99ExecTimeMs    float64 `json:"p99_exec_time_ms"`
	DurationMs       float64 `json:"duration_ms"`
	ExecutionsPerSec float64 `json:"executions_per_sec"`

	Containers     int     `json:"containers"`
	MemoryMB       float64 `json:"memory_mb"`
	CPUPercent     float64 `json:"cpu_percent"`
	PeakContainers int     `json:"peak_containers"`
	PeakMemoryMB   float64 `json:"peak_memory_mb"`
}

// NewCollector creates a collector for a run of planned sessions.
func NewCollector(planned int) *Collector {
	// Track execution times from 1µs up to 10min with 3 significant figures.
	h := hdrhistogram.New(1, 600_000_000, 3)
	return &Collector{
		hist:    h,
		planned: int64(planned),
		reasons: make(map[string]int64),
		start:   time.Now(),
	}
}

// Start marks the beginning of the run.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
}

// StartTime returns the time recorded by Start.
func (c *Collector) StartTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start
}

// RecordConnect counts one connection attempt.
func (c *Collector) RecordConnect(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.connected++
	} else {
		c.connectFailures++
	}
}

// RecordStarted counts a submission that is now in flight.
func (c *Collector) RecordStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running++
}

// RecordExecution records a finished submission. Executions without a
// positive time are counted but left out of timing statistics.
func (c *Collector) RecordExecution(e Execution) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running > 0 {
		c.running--
	}
	if e.Success {
		c.successes++
	} else {
		c.failures++
		reason := e.Reason
		if reason == "" {
			reason = ReasonOther
		}
		c.reasons[reason]++
	}

	if d := e.ExecutionTime; d > 0 {
		us := d.Microseconds()
		if us < c.hist.LowestTrackableValue() {
			us = c.hist.LowestTrackableValue()
		}
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)

		c.sumExec += d
		c.timed++
		if c.minExec == 0 || d < c.minExec {
			c.minExec = d
		}
		if d > c.maxExec {
			c.maxExec = d
		}
	}

	if e.At.IsZero() {
		e.At = time.Now()
	}
	c.recent = append(c.recent, e)
	if len(c.recent) > recentCapacity {
		c.recent = c.recent[len(c.recent)-recentCapacity:]
	}
}

// RecordResources stores the latest container usage figures.
func (c *Collector) RecordResources(containers int, memoryMB, cpuPercent float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.containers = containers
	c.memoryMB = memoryMB
	c.cpuPercent = cpuPercent
	if containers > c.peakContainers {
		c.peakContainers = containers
	}
	if memoryMB > c.peakMemoryMB {
		c.peakMemoryMB = memoryMB
	}
}

// Recent returns the last few executions, oldest first.
func (c *Collector) Recent() []Execution {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Execution, len(c.recent))
	copy(out, c.recent)
	return out
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	completed := c.successes + c.failures
	stats := Stats{
		Planned:         c.planned,
		Connected:       c.connected,
		ConnectFailures: c.connectFailures,
		Running:         c.running,
		Completed:       completed,
		Successes:       c.successes,
		Failures:        c.failures,
		MinExecTime:     c.minExec,
		MaxExecTime:     c.maxExec,
		Containers:      c.containers,
		MemoryMB:        c.memoryMB,
		CPUPercent:      c.cpuPercent,
		PeakContainers:  c.peakContainers,
		PeakMemoryMB:    c.peakMemoryMB,
	}

	if c.timed > 0 {
		stats.MeanExecTime = time.Duration(int64(c.sumExec) / c.timed)
	}
	if c.hist.TotalCount() > 0 {
		stats.P50ExecTime = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90ExecTime = time.Duration(c.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P99ExecTime = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.MinExecTimeMs = toMs(stats.MinExecTime)
	stats.MaxExecTimeMs = toMs(stats.MaxExecTime)
	stats.MeanExecTimeMs = toMs(stats.MeanExecTime)
	stats.P50ExecTimeMs = toMs(stats.P50ExecTime)
	stats.P90ExecTimeMs = toMs(stats.P90ExecTime)
	stats.P99ExecTimeMs = toMs(stats.P99ExecTime)

	stats.Duration = elapsed
	stats.DurationMs = toMs(elapsed)
	if elapsed > 0 && completed > 0 {
		stats.ExecutionsPerSec = float64(completed) / elapsed.Seconds()
	}

	if len(c.reasons) > 0 {
		stats.FailureReasons = make(map[string]int, len(c.reasons))
		for k, v := range c.reasons {
			stats.FailureReasons[k] = int(v)
		}
	}
	return stats
}

// SortedReasons returns failure reasons ordered by count, then name.
func (s Stats) SortedReasons() []string {
	names := make([]string, 0, len(s.FailureReasons))
	for name := range s.FailureReasons {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := s.FailureReasons[names[i]], s.FailureReasons[names[j]]
		if ci != cj {
			return ci > cj
		}
		return names[i] < names[j]
	})
	return names
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
