// Package session simulates one client of the code execution service: it
// connects over the event channel, submits a program and waits for the
// outcome.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/coderunner/loadtest/internal/corpus"
	"github.com/coderunner/loadtest/internal/socketio"
	"github.com/coderunner/loadtest/internal/tracing"
)

// Event names used by the execution service.
const (
	EventRun               = "run"
	EventOutput            = "output"
	EventExit              = "exit"
	EventExecutionComplete = "execution-complete"
	EventError             = "error"
)

const (
	DefaultTimeout = 30 * time.Second

	ErrTextTimeout     = "Execution timeout"
	ErrTextInterrupted = "interrupted"
)

// ErrNotConnected is recorded when RunProgram is called on a session whose
// channel never connected.
var ErrNotConnected = errors.New("session is not connected")

// Channel is the event channel a session talks over. *socketio.Client satisfies it.
type Channel interface {
	On(event string, h socketio.Handler)
	Connect(ctx context.Context) error
	Emit(ctx context.Context, event string, payload interface{}) error
	Close() error
	Connected() bool
}

// State is the lifecycle position of a session.
type State string

const (
	StateUnconnected  State = "unconnected"
	StateConnected    State = "connected"
	StateSubmitted    State = "submitted"
	StateCompleted    State = "completed"
	StateErrored      State = "errored"
	StateTimedOut     State = "timed_out"
	StateDisconnected State = "disconnected"
)

// ExecutionResult is the outcome of one submission.
type ExecutionResult struct {
	ID              string          `json:"id"`
	SessionName     string          `json:"student_id"`
	CorrelationID   string          `json:"session_id"`
	Language        string          `json:"language"`
	ProgramName     string          `json:"program_name"`
	Category        corpus.Category `json:"category"`
	Success         bool            `json:"success"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	ExecutionTimeMs float64         `json:"execution_time_ms"`
	ExitCode        *int            `json:"exit_code"`
	Stdout          string          `json:"stdout"`
	Stderr          string          `json:"stderr"`
	Error           string          `json:"error,omitempty"`
	OutputMatched   *bool           `json:"output_matched,omitempty"`
}

// Options tunes a Simulator.
type Options struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	Now    func() time.Time
}

type runRequest struct {
	SessionID string              `json:"sessionId"`
	Language  string              `json:"language"`
	Files     []corpus.SourceFile `json:"files"`
}

type terminal struct {
	event    string
	exitCode int
	execTime float64
	errText  string
	stdout   string
	at       time.Time
}

// submission is the completion signal for one in-flight RunProgram call.
type submission struct {
	done chan terminal
	once sync.Once
}

func (s *submission) finish(t terminal) {
	s.once.Do(func() { s.done <- t })
}

// Simulator is one simulated user.
type Simulator struct {
	name          string
	correlationID string
	channel       Channel
	logger        *slog.Logger
	tracer        trace.Tracer
	now           func() time.Time

	mu      sync.Mutex
	state   State
	buffer  strings.Builder
	pending *submission
	results []ExecutionResult
}

// New creates a session named name on top of channel.
func New(name string, channel Channel, opts Options) *Simulator {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("loadtest")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Simulator{
		name:          name,
		correlationID: fmt.Sprintf("loadtest-%s-%s", name, uuid.NewString()[:8]),
		channel:       channel,
		logger:        opts.Logger.With("session", name),
		tracer:        opts.Tracer,
		now:           opts.Now,
		state:         StateUnconnected,
	}
}

func (s *Simulator) Name() string          { return s.name }
func (s *Simulator) CorrelationID() string { return s.correlationID }

// State returns the current lifecycle state.
func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the underlying channel is live.
func (s *Simulator) Connected() bool {
	return s.channel != nil && s.channel.Connected()
}

// Connect registers the event handlers and opens the channel. A failure is
// logged and reported as false.
func (s *Simulator) Connect(ctx context.Context) bool {
	if s.channel == nil {
		s.logger.Warn("connection failed", "error", "no channel")
		return false
	}

	s.channel.On(EventOutput, s.onOutput)
	s.channel.On(EventExit, func(payload []byte) {
		s.onTerminal(EventExit, payload, "code")
	})
	s.channel.On(EventExecutionComplete, func(payload []byte) {
		s.onTerminal(EventExecutionComplete, payload, "exitCode")
	})
	s.channel.On(EventError, s.onError)

	if err := s.channel.Connect(ctx); err != nil {
		s.logger.Warn("connection failed", "error", err)
		return false
	}

	s.mu.Lock()
	s.state = StateConnected
	s.mu.Unlock()
	return true
}

func (s *Simulator) onOutput(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return
	}
	s.buffer.WriteString(gjson.GetBytes(payload, "data").String())
}

func (s *Simulator) onTerminal(event string, payload []byte, codeField string) {
	t := terminal{event: event, exitCode: -1, at: s.now()}
	if code := gjson.GetBytes(payload, codeField); code.Exists() {
		t.exitCode = int(code.Int())
	}
	t.execTime = gjson.GetBytes(payload, "executionTime").Float()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return
	}
	t.stdout = s.buffer.String()
	s.pending.finish(t)
}

func (s *Simulator) onError(payload []byte) {
	t := terminal{event: EventError, at: s.now(), errText: errorText(payload)}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return
	}
	t.stdout = s.buffer.String()
	s.pending.finish(t)
}

// errorText renders an error payload: strings unquoted, anything else as raw JSON.
func errorText(payload []byte) string {
	if len(payload) == 0 {
		return EventError
	}
	v := gjson.ParseBytes(payload)
	if v.Type == gjson.String {
		return v.String()
	}
	return v.Raw
}

// RunProgram submits program and blocks until a terminal event, the
// timeout or ctx cancellation. It always returns exactly one result, which
// is also appended to Results.
func (s *Simulator) RunProgram(ctx context.Context, language string, program corpus.Program, timeout time.Duration) ExecutionResult {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, span := tracing.StartRunSpan(ctx, s.tracer, s.name, language, program.Name)

	sub := &submission{done: make(chan terminal, 1)}
	s.mu.Lock()
	s.buffer.Reset()
	s.pending = sub
	s.mu.Unlock()

	start := s.now()
	result := ExecutionResult{
		ID:            ulid.Make().String(),
		SessionName:   s.name,
		CorrelationID: s.correlationID,
		Language:      language,
		ProgramName:   program.Name,
		Category:      program.CategoryOrUnknown(),
		StartTime:     start,
	}

	state := s.await(ctx, sub, &result, language, program, timeout)
	if program.ExpectedOutput != "" && state == StateCompleted {
		matched := strings.Contains(strings.TrimSpace(result.Stdout), program.ExpectedOutput)
		result.OutputMatched = &matched
	}

	s.mu.Lock()
	s.pending = nil
	s.state = state
	s.results = append(s.results, result)
	s.mu.Unlock()

	var spanErr error
	if !result.Success {
		spanErr = errors.New(result.Error)
		if result.Error == "" {
			spanErr = fmt.Errorf("exit code %d", derefInt(result.ExitCode, -1))
		}
	}
	tracing.EndSpan(span, spanErr,
		attribute.Bool("loadtest.success", result.Success),
		attribute.Float64("loadtest.execution_time_ms", result.ExecutionTimeMs),
	)
	return result
}

func (s *Simulator) await(ctx context.Context, sub *submission, result *ExecutionResult, language string, program corpus.Program, timeout time.Duration) State {
	elapsed := func() {
		result.EndTime = s.now()
		result.ExecutionTimeMs = float64(result.EndTime.Sub(result.StartTime)) / float64(time.Millisecond)
	}

	if !s.Connected() {
		result.Error = ErrNotConnected.Error()
		elapsed()
		return StateErrored
	}

	req := runRequest{SessionID: s.correlationID, Language: language, Files: program.Files}
	if err := s.channel.Emit(ctx, EventRun, req); err != nil {
		result.Error = err.Error()
		elapsed()
		return StateErrored
	}

	s.mu.Lock()
	s.state = StateSubmitted
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case t := <-sub.done:
		result.EndTime = t.at
		result.Stdout = t.stdout
		if t.event == EventError {
			result.Error = t.errText
			return StateErrored
		}
		code := t.exitCode
		result.ExitCode = &code
		result.ExecutionTimeMs = t.execTime
		result.Success = code == 0
		return StateCompleted
	case <-timer.C:
		result.Error = ErrTextTimeout
		elapsed()
		return StateTimedOut
	case <-ctx.Done():
		result.Error = ErrTextInterrupted
		elapsed()
		return StateErrored
	}
}

// Disconnect closes the channel and moves the session to StateDisconnected.
// It is a no-op on a session that never connected. A channel the server
// already dropped is not closed again.
func (s *Simulator) Disconnect() error {
	s.mu.Lock()
	if s.channel == nil || s.state == StateUnconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisconnected
	s.mu.Unlock()

	if !s.channel.Connected() {
		return nil
	}
	return s.channel.Close()
}

// Results returns a copy of every result produced so far, in order.
func (s *Simulator) Results() []ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ExecutionResult, len(s.results))
	copy(out, s.results)
	return out
}

func derefInt(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}
