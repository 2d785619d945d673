package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/coderunner/loadtest/internal/corpus"
	"github.com/coderunner/loadtest/internal/metrics"
	"github.com/coderunner/loadtest/internal/monitor"
	"github.com/coderunner/loadtest/internal/session"
	"github.com/coderunner/loadtest/internal/tracing"
)

var (
	ErrNoRegistry = errors.New("orchestrator: registry is required")
	ErrNoDialer   = errors.New("orchestrator: dialer is required")
)

// Outcome is everything a finished run hands to the report builder.
type Outcome struct {
	TestID    string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Results   []session.ExecutionResult
	Snapshots []monitor.Snapshot
	Connected int
	Failed    int
}

// Batch is a half-open range [Start, End) of session indexes.
type Batch struct {
	Start int
	End   int
}

// Size returns the number of sessions in the batch.
func (b Batch) Size() int { return b.End - b.Start }

// BatchPlan splits n sessions into consecutive batches of at most size.
func BatchPlan(n, size int) []Batch {
	if n <= 0 {
		return nil
	}
	if size <= 0 || size > n {
		size = n
	}
	plan := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		plan = append(plan, Batch{Start: start, End: end})
	}
	return plan
}

// TestID names a run after its mode and local start time.
func TestID(mode Mode, start time.Time) string {
	return fmt.Sprintf("loadtest-%s-%s", mode, start.Format("20060102-150405"))
}

// SessionName returns the display name of session i (zero based) out of n.
func SessionName(i, n int) string {
	width := len(strconv.Itoa(n))
	if width < 2 {
		width = 2
	}
	return fmt.Sprintf("user-%0*d", width, i+1)
}

// Orchestrator runs one load test.
type Orchestrator struct {
	opt     Options
	limiter *rate.Limiter

	mu        sync.Mutex
	sims      []*session.Simulator
	results   []indexedResult
	connected int
	failed    int
}

type indexedResult struct {
	index  int
	result session.ExecutionResult
}

// New creates an Orchestrator.
func New(opt Options) *Orchestrator {
	opt.normalize()
	return &Orchestrator{opt: opt, limiter: opt.limiter()}
}

// Run executes the test. On cancellation every session is still disconnected
// and the monitor stopped, and ctx.Err() is returned with the partial outcome.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	if o.opt.Registry == nil {
		return Outcome{}, ErrNoRegistry
	}
	if o.opt.Dialer == nil {
		return Outcome{}, ErrNoDialer
	}

	start := o.opt.Now()
	out := Outcome{TestID: o.opt.TestID, StartTime: start}
	if out.TestID == "" {
		out.TestID = TestID(o.opt.Mode, start)
	}

	ctx, span := tracing.StartPhaseSpan(ctx, o.opt.Tracer, "loadtest.run",
		attribute.String("loadtest.test_id", out.TestID),
		attribute.String("loadtest.mode", string(o.opt.Mode)),
		attribute.Int("loadtest.sessions", o.opt.Sessions),
	)

	if o.opt.Collector != nil {
		o.opt.Collector.Start()
	}
	if o.opt.Monitor != nil {
		o.opt.Monitor.Start(ctx)
	}

	assignments := o.opt.Registry.Assign(o.opt.Sessions)
	plan := BatchPlan(len(assignments), len(assignments))
	if o.opt.Mode == ModeRamp {
		plan = BatchPlan(len(assignments), o.opt.RampBatchSize)
		o.opt.Logger.Info("starting ramp test",
			"test_id", out.TestID,
			"target", o.opt.Target,
			"sessions", o.opt.Sessions,
			"batch_size", o.opt.RampBatchSize,
			"batches", len(plan),
			"interval", o.opt.RampInterval,
		)
	} else {
		o.opt.Logger.Info("starting burst test",
			"test_id", out.TestID,
			"target", o.opt.Target,
			"sessions", o.opt.Sessions,
		)
	}

	var runs errgroup.Group
	err := o.runBatches(ctx, plan, assignments, &runs)
	_ = runs.Wait()

	o.disconnectAll()
	if o.opt.Monitor != nil {
		o.opt.Monitor.Stop()
		out.Snapshots = o.opt.Monitor.Snapshots()
	}

	out.EndTime = o.opt.Now()
	out.Duration = out.EndTime.Sub(out.StartTime)
	out.Results = o.sortedResults()
	o.mu.Lock()
	out.Connected, out.Failed = o.connected, o.failed
	o.mu.Unlock()

	if err == nil {
		err = ctx.Err()
	}
	tracing.EndSpan(span, err,
		attribute.Int("loadtest.connected", out.Connected),
		attribute.Int("loadtest.results", len(out.Results)),
	)
	if err != nil {
		o.opt.Logger.Warn("test interrupted", "test_id", out.TestID, "error", err)
		return out, err
	}

	o.opt.Logger.Info("test complete",
		"test_id", out.TestID,
		"executions", len(out.Results),
		"duration", out.Duration.Round(time.Millisecond),
	)
	return out, nil
}

func (o *Orchestrator) runBatches(ctx context.Context, plan []Batch, assignments []corpus.Assignment, runs *errgroup.Group) error {
	for i, batch := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}

		batchCtx, span := tracing.StartPhaseSpan(ctx, o.opt.Tracer, "loadtest.batch",
			attribute.Int("loadtest.batch", i+1),
			attribute.Int("loadtest.batch_size", batch.Size()),
		)
		ready := o.connectBatch(batchCtx, batch, assignments)
		tracing.EndSpan(span, nil, attribute.Int("loadtest.connected", len(ready)))

		if o.opt.Mode == ModeRamp {
			o.opt.Logger.Info("batch connected",
				"batch", i+1,
				"of", len(plan),
				"connected", len(ready),
				"size", batch.Size(),
			)
		} else {
			o.opt.Logger.Info("sessions connected", "connected", len(ready), "of", batch.Size())
		}

		for _, r := range ready {
			if o.opt.Collector != nil {
				o.opt.Collector.RecordStarted()
			}
			runs.Go(func() error {
				o.run(ctx, r)
				return nil
			})
		}

		if i < len(plan)-1 && o.opt.RampInterval > 0 {
			if err := o.opt.Sleep(ctx, o.opt.RampInterval); err != nil {
				return err
			}
		}
	}
	return nil
}

type readySession struct {
	index int
	sim   *session.Simulator
	job   corpus.Assignment
}

// connectBatch constructs and connects the batch's sessions concurrently.
// A failed connection never cancels its siblings.
func (o *Orchestrator) connectBatch(ctx context.Context, batch Batch, assignments []corpus.Assignment) []readySession {
	total := len(assignments)
	sims := make([]*session.Simulator, batch.Size())
	for i := range sims {
		idx := batch.Start + i
		name := SessionName(idx, total)
		sims[i] = session.New(name, o.opt.Dialer(ctx, name), session.Options{
			Logger: o.opt.Logger,
			Tracer: o.opt.Tracer,
		})
	}
	o.mu.Lock()
	o.sims = append(o.sims, sims...)
	o.mu.Unlock()

	ok := make([]bool, len(sims))
	var g errgroup.Group
	for i, sim := range sims {
		g.Go(func() error {
			if err := o.limiter.Wait(ctx); err != nil {
				o.recordConnect(false)
				return nil
			}
			ok[i] = sim.Connect(ctx)
			o.recordConnect(ok[i])
			return nil
		})
	}
	_ = g.Wait()

	var ready []readySession
	for i, sim := range sims {
		if !ok[i] {
			continue
		}
		idx := batch.Start + i
		ready = append(ready, readySession{index: idx, sim: sim, job: assignments[idx]})
	}
	return ready
}

func (o *Orchestrator) recordConnect(ok bool) {
	o.mu.Lock()
	if ok {
		o.connected++
	} else {
		o.failed++
	}
	o.mu.Unlock()
	if o.opt.Collector != nil {
		o.opt.Collector.RecordConnect(ok)
	}
}

func (o *Orchestrator) run(ctx context.Context, r readySession) {
	res := r.sim.RunProgram(ctx, r.job.Language, r.job.Program, o.opt.Timeout)

	o.mu.Lock()
	o.results = append(o.results, indexedResult{index: r.index, result: res})
	o.mu.Unlock()

	if o.opt.Collector != nil {
		o.opt.Collector.RecordExecution(ExecutionFromResult(res))
	}
	if o.opt.OnResult != nil {
		o.opt.OnResult(res)
	}
}

func (o *Orchestrator) disconnectAll() {
	o.mu.Lock()
	sims := append([]*session.Simulator(nil), o.sims...)
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, sim := range sims {
		wg.Add(1)
		go func(s *session.Simulator) {
			defer wg.Done()
			_ = s.Disconnect()
		}(sim)
	}
	wg.Wait()
}

func (o *Orchestrator) sortedResults() []session.ExecutionResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	sort.SliceStable(o.results, func(i, j int) bool {
		return o.results[i].index < o.results[j].index
	})
	out := make([]session.ExecutionResult, len(o.results))
	for i, r := range o.results {
		out[i] = r.result
	}
	return out
}

// ExecutionFromResult converts a session result into a live collector sample.
func ExecutionFromResult(res session.ExecutionResult) metrics.Execution {
	e := metrics.Execution{
		Session:       res.SessionName,
		Language:      res.Language,
		Program:       res.ProgramName,
		Success:       res.Success,
		ExecutionTime: time.Duration(res.ExecutionTimeMs * float64(time.Millisecond)),
		At:            res.EndTime,
	}
	if !res.Success {
		e.Reason = failureReason(res)
	}
	return e
}

func failureReason(res session.ExecutionResult) string {
	switch {
	case res.Error == session.ErrTextTimeout:
		return metrics.ReasonTimeout
	case res.Error == session.ErrTextInterrupted:
		return metrics.ReasonInterrupted
	case res.Error != "":
		return metrics.ReasonErrorEvent
	case res.ExitCode != nil && *res.ExitCode != 0:
		return metrics.ReasonExitCode
	default:
		return metrics.ReasonOther
	}
}
