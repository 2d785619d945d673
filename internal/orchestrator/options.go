package orchestrator

import (
	"context"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/coderunner/loadtest/internal/corpus"
	"github.com/coderunner/loadtest/internal/metrics"
	"github.com/coderunner/loadtest/internal/monitor"
	"github.com/coderunner/loadtest/internal/session"
)

// Mode selects how sessions are brought up.
type Mode string

const (
	ModeBurst Mode = "burst"
	ModeRamp  Mode = "ramp"
)

// Dialer builds the event channel for the named session. ctx carries the
// span of the phase that creates the session.
type Dialer func(ctx context.Context, name string) session.Channel

// ResourceMonitor samples container usage for the duration of a run.
type ResourceMonitor interface {
	Start(ctx context.Context)
	Stop()
	Snapshots() []monitor.Snapshot
}

// Options configure the Orchestrator.
type Options struct {
	TestID        string // generated from Mode and start time when empty
	Target        string
	Sessions      int           // number of simulated users
	Mode          Mode          // burst or ramp
	RampInterval  time.Duration // pause between ramp batches
	RampBatchSize int           // sessions per ramp batch
	Timeout       time.Duration // per-execution timeout
	ConnectRate   float64       // new connections per second (0 means unlimited)

	Registry  *corpus.Registry // programs to assign (required)
	Dialer    Dialer           // channel factory (required)
	Monitor   ResourceMonitor  // optional
	Collector *metrics.Collector
	Logger    *slog.Logger
	Tracer    trace.Tracer

	// OnResult is called once per finished execution, from the session's goroutine.
	OnResult func(session.ExecutionResult)

	// Sleep and Now are injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func (o *Options) normalize() {
	if o.Sessions < 0 {
		o.Sessions = 0
	}
	if o.Mode == "" {
		o.Mode = ModeBurst
	}
	if o.RampBatchSize <= 0 {
		o.RampBatchSize = 1
	}
	if o.RampInterval < 0 {
		o.RampInterval = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = session.DefaultTimeout
	}
	if o.ConnectRate < 0 {
		o.ConnectRate = 0
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("loadtest")
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func (o *Options) limiter() *rate.Limiter {
	if o.ConnectRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(math.Ceil(o.ConnectRate))
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(o.ConnectRate), burst)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
