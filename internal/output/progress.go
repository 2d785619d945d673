package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/coderunner/loadtest/internal/metrics"
)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	collector *metrics.Collector
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
	start     time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
		start:     time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		return
	}
	p.ticker.Stop()
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprintln(p.writer, ProgressLine(p.collector.Stats(time.Since(p.start))))
		case <-p.done:
			return
		}
	}
}

// ProgressLine renders one progress update.
func ProgressLine(stats metrics.Stats) string {
	line := fmt.Sprintf("       Progress: %d/%d done | Running: %d | OK: %d | Failed: %d",
		stats.Completed, stats.Planned, stats.Running, stats.Successes, stats.Failures)
	if stats.ConnectFailures > 0 {
		line += fmt.Sprintf(" | Connect failures: %d", stats.ConnectFailures)
	}
	if stats.Completed > 0 {
		line += fmt.Sprintf(" | P90 %.0fms", stats.P90ExecTimeMs)
	}
	line += fmt.Sprintf(" | Containers: %d (%.0fMB)", stats.Containers, stats.MemoryMB)
	return line
}
