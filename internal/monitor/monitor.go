package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultFilter   = "coderunner"
)

// ErrStopped is returned by a sample taken after Stop.
var ErrStopped = errors.New("monitor stopped")

// ContainerUsage is the resource usage of one container at sample time.
type ContainerUsage struct {
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu"`
	MemoryMB   float64 `json:"memory_mb"`
}

// Snapshot is one point of the resource time series. Never mutated after creation.
type Snapshot struct {
	Timestamp       time.Time        `json:"timestamp"`
	ContainerCount  int              `json:"container_count"`
	TotalMemoryMB   float64          `json:"total_memory_mb"`
	TotalCPUPercent float64          `json:"total_cpu_percent"`
	Containers      []ContainerUsage `json:"containers"`
}

// Sampler lists the current usage of every running container.
type Sampler interface {
	Sample(ctx context.Context) ([]ContainerUsage, error)
}

// Options configures a Monitor.
type Options struct {
	Interval time.Duration
	// Filter keeps containers whose name contains it, case-insensitively.
	// An empty filter keeps every container.
	Filter     string
	Sampler    Sampler
	Logger     *slog.Logger
	OnSnapshot func(Snapshot)
	Now        func() time.Time
}

func (o Options) normalize() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Sampler == nil {
		o.Sampler = NewCLISampler("")
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Filter = strings.ToLower(o.Filter)
	return o
}

// Monitor samples container usage in the background and keeps the
// resulting append-only snapshot sequence.
type Monitor struct {
	opts Options

	mu        sync.Mutex
	snapshots []Snapshot
	stopped   bool

	active   int32
	cancel   context.CancelFunc
	finished chan struct{}
}

// New creates a monitor; sampling begins with Start.
func New(opts Options) *Monitor {
	return &Monitor{
		opts:     opts.normalize(),
		finished: make(chan struct{}),
	}
}

// Start samples immediately and then once per interval until Stop or ctx
// cancellation. Calling Start again has no effect.
func (m *Monitor) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&m.active, 0, 1) {
		return
	}
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		close(m.finished)
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(loopCtx)
}

// Stop ends sampling and waits for an in-flight sample to finish. No
// snapshot is appended after Stop returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-m.finished
}

// Snapshots returns a copy of the sequence collected so far.
func (m *Monitor) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.finished)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.poll(ctx); err != nil && ctx.Err() == nil {
			m.opts.Logger.Warn("resource sample failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll takes one sample, filters it and appends the snapshot unless the
// monitor has been stopped.
func (m *Monitor) poll(ctx context.Context) (Snapshot, error) {
	usage, err := m.opts.Sampler.Sample(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Timestamp: m.opts.Now(), Containers: []ContainerUsage{}}
	for _, c := range usage {
		if m.opts.Filter != "" && !strings.Contains(strings.ToLower(c.Name), m.opts.Filter) {
			continue
		}
		snap.Containers = append(snap.Containers, c)
		snap.TotalMemoryMB += c.MemoryMB
		snap.TotalCPUPercent += c.CPUPercent
	}
	snap.ContainerCount = len(snap.Containers)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return snap, ErrStopped
	}
	if ctx.Err() != nil {
		m.mu.Unlock()
		return snap, ctx.Err()
	}
	m.snapshots = append(m.snapshots, snap)
	m.mu.Unlock()

	if m.opts.OnSnapshot != nil {
		m.opts.OnSnapshot(snap)
	}
	return snap, nil
}
