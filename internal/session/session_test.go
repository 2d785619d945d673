package session

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/coderunner/loadtest/internal/corpus"
	"github.com/coderunner/loadtest/internal/socketio"
)

type emitted struct {
	event   string
	payload []byte
}

// fakeChannel records emits and lets tests fire server events.
type fakeChannel struct {
	mu         sync.Mutex
	handlers   map[string]socketio.Handler
	connectErr error
	emitErr    error
	connected  bool
	closed     int
	emits      []emitted
	onEmit     func(f *fakeChannel)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string]socketio.Handler)}
}

func (f *fakeChannel) On(event string, h socketio.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = h
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeChannel) Emit(ctx context.Context, event string, payload interface{}) error {
	if f.emitErr != nil {
		return f.emitErr
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.emits = append(f.emits, emitted{event: event, payload: data})
	hook := f.onEmit
	f.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.connected = false
	return nil
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) fire(event, payload string) {
	f.mu.Lock()
	h := f.handlers[event]
	f.mu.Unlock()
	if h != nil {
		h([]byte(payload))
	}
}

func helloProgram() corpus.Program {
	return corpus.Program{
		Name:           "hello_world",
		Category:       corpus.CategoryQuick,
		ExpectedOutput: "Hello, World!",
		Files: []corpus.SourceFile{
			{Name: "main.py", Path: "main.py", Content: `print("Hello, World!")`, Executable: true},
		},
	}
}

func connected(t *testing.T, ch *fakeChannel) *Simulator {
	t.Helper()
	s := New("user-01", ch, Options{})
	if !s.Connect(context.Background()) {
		t.Fatal("Connect returned false")
	}
	return s
}

func TestCorrelationID(t *testing.T) {
	s := New("user-07", newFakeChannel(), Options{})
	if !regexp.MustCompile(`^loadtest-user-07-[0-9a-f]{8}$`).MatchString(s.CorrelationID()) {
		t.Errorf("unexpected correlation id %q", s.CorrelationID())
	}
	if s.State() != StateUnconnected {
		t.Errorf("initial state = %s", s.State())
	}
}

func TestRunProgramExitWithBufferedOutput(t *testing.T) {
	ch := newFakeChannel()
	ch.onEmit = func(f *fakeChannel) {
		f.fire(EventOutput, `{"data":"Hello, "}`)
		f.fire(EventOutput, `{"data":"World!\n"}`)
		f.fire(EventExit, `{"code":0,"executionTime":123}`)
		f.fire(EventOutput, `{"data":"late"}`)
	}
	s := connected(t, ch)

	res := s.RunProgram(context.Background(), "python", helloProgram(), time.Second)

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Stdout != "Hello, World!\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Errorf("exit code = %v", res.ExitCode)
	}
	if res.ExecutionTimeMs != 123 {
		t.Errorf("execution time = %v, want 123", res.ExecutionTimeMs)
	}
	if res.OutputMatched == nil || !*res.OutputMatched {
		t.Errorf("expected output to match")
	}
	if res.Category != corpus.CategoryQuick || res.Language != "python" || res.ProgramName != "hello_world" {
		t.Errorf("unexpected identity fields %+v", res)
	}
	if res.ID == "" || res.SessionName != "user-01" || res.CorrelationID != s.CorrelationID() {
		t.Errorf("unexpected ids %+v", res)
	}
	if s.State() != StateCompleted {
		t.Errorf("state = %s, want completed", s.State())
	}
	if got := s.Results(); len(got) != 1 {
		t.Errorf("Results() has %d entries, want 1", len(got))
	}
}

func TestRunProgramEmitsRunRequest(t *testing.T) {
	ch := newFakeChannel()
	ch.onEmit = func(f *fakeChannel) { f.fire(EventExit, `{"code":0}`) }
	s := connected(t, ch)
	s.RunProgram(context.Background(), "python", helloProgram(), time.Second)

	if len(ch.emits) != 1 || ch.emits[0].event != EventRun {
		t.Fatalf("emits = %+v", ch.emits)
	}
	var req struct {
		SessionID string `json:"sessionId"`
		Language  string `json:"language"`
		Files     []struct {
			Name     string `json:"name"`
			Path     string `json:"path"`
			Content  string `json:"content"`
			ToBeExec bool   `json:"toBeExec"`
		} `json:"files"`
	}
	if err := json.Unmarshal(ch.emits[0].payload, &req); err != nil {
		t.Fatalf("decode run payload: %v", err)
	}
	if req.SessionID != s.CorrelationID() || req.Language != "python" {
		t.Errorf("unexpected request %+v", req)
	}
	if len(req.Files) != 1 || req.Files[0].Name != "main.py" || !req.Files[0].ToBeExec {
		t.Errorf("unexpected files %+v", req.Files)
	}
}

func TestRunProgramExecutionComplete(t *testing.T) {
	ch := newFakeChannel()
	ch.onEmit = func(f *fakeChannel) {
		f.fire(EventOutput, `{"data":"oops"}`)
		f.fire(EventExecutionComplete, `{"exitCode":1,"executionTime":45.5}`)
	}
	s := connected(t, ch)
	res := s.RunProgram(context.Background(), "python", helloProgram(), time.Second)

	if res.Success {
		t.Error("non-zero exit code must not succeed")
	}
	if res.ExitCode == nil || *res.ExitCode != 1 {
		t.Errorf("exit code = %v, want 1", res.ExitCode)
	}
	if res.ExecutionTimeMs != 45.5 {
		t.Errorf("execution time = %v", res.ExecutionTimeMs)
	}
	if res.OutputMatched == nil || *res.OutputMatched {
		t.Error("expected output mismatch to be recorded")
	}
}

func TestRunProgramExitWithoutCode(t *testing.T) {
	ch := newFakeChannel()
	ch.onEmit = func(f *fakeChannel) { f.fire(EventExit, `{}`) }
	s := connected(t, ch)
	res := s.RunProgram(context.Background(), "python", helloProgram(), time.Second)
	if res.Success || res.ExitCode == nil || *res.ExitCode != -1 {
		t.Errorf("missing code should map to -1 failure, got %+v", res)
	}
}

func TestRunProgramErrorEvent(t *testing.T) {
	ch := newFakeChannel()
	ch.onEmit = func(f *fakeChannel) {
		f.fire(EventError, `{"message":"compiler crashed"}`)
		f.fire(EventExit, `{"code":0}`)
	}
	s := connected(t, ch)
	res := s.RunProgram(context.Background(), "cpp", helloProgram(), time.Second)

	if res.Success {
		t.Error("error event must fail the result")
	}
	if res.Error != `{"message":"compiler crashed"}` {
		t.Errorf("error = %q", res.Error)
	}
	if res.ExecutionTimeMs != 0 {
		t.Errorf("execution time = %v, want 0", res.ExecutionTimeMs)
	}
	if res.ExitCode != nil {
		t.Errorf("exit code = %v, want nil", *res.ExitCode)
	}
	if s.State() != StateErrored {
		t.Errorf("state = %s", s.State())
	}
}

func TestErrorTextForStringPayload(t *testing.T) {
	if got := errorText([]byte(`"bad language"`)); got != "bad language" {
		t.Errorf("errorText = %q", got)
	}
	if got := errorText(nil); got != "error" {
		t.Errorf("errorText(nil) = %q", got)
	}
}

func TestRunProgramTimeout(t *testing.T) {
	s := connected(t, newFakeChannel())

	start := time.Now()
	res := s.RunProgram(context.Background(), "java", helloProgram(), 50*time.Millisecond)

	if res.Success {
		t.Error("timeout must fail the result")
	}
	if res.Error != ErrTextTimeout {
		t.Errorf("error = %q, want %q", res.Error, ErrTextTimeout)
	}
	if res.ExecutionTimeMs < 50 {
		t.Errorf("execution time = %vms, want at least 50", res.ExecutionTimeMs)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("RunProgram waited far longer than the timeout")
	}
	if s.State() != StateTimedOut {
		t.Errorf("state = %s", s.State())
	}
}

func TestRunProgramIgnoresEventsAfterTimeout(t *testing.T) {
	ch := newFakeChannel()
	s := connected(t, ch)
	s.RunProgram(context.Background(), "java", helloProgram(), 10*time.Millisecond)

	ch.fire(EventOutput, `{"data":"late"}`)
	ch.fire(EventExit, `{"code":0}`)

	results := s.Results()
	if len(results) != 1 || results[0].Success {
		t.Errorf("late events altered results: %+v", results)
	}
}

func TestRunProgramEmitFailure(t *testing.T) {
	ch := newFakeChannel()
	s := connected(t, ch)
	ch.emitErr = errors.New("broken pipe")

	res := s.RunProgram(context.Background(), "python", helloProgram(), time.Second)
	if res.Success || !strings.Contains(res.Error, "broken pipe") {
		t.Errorf("unexpected result %+v", res)
	}
	if res.EndTime.IsZero() {
		t.Error("end time should be recorded")
	}
}

func TestRunProgramInterrupted(t *testing.T) {
	s := connected(t, newFakeChannel())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := s.RunProgram(ctx, "python", helloProgram(), 10*time.Second)
	if res.Error != ErrTextInterrupted {
		t.Errorf("error = %q, want %q", res.Error, ErrTextInterrupted)
	}
}

func TestConnectFailure(t *testing.T) {
	ch := newFakeChannel()
	ch.connectErr = errors.New("connection refused")
	s := New("user-02", ch, Options{})

	if s.Connect(context.Background()) {
		t.Fatal("Connect should report failure")
	}
	if s.State() != StateUnconnected {
		t.Errorf("state = %s", s.State())
	}
	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect on unopened session = %v", err)
	}
	if ch.closed != 0 {
		t.Error("Close should not be called on a never-opened channel")
	}

	res := s.RunProgram(context.Background(), "python", helloProgram(), time.Second)
	if res.Success || res.Error != ErrNotConnected.Error() {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	ch := newFakeChannel()
	s := connected(t, ch)
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if ch.closed != 1 {
		t.Errorf("Close called %d times, want 1", ch.closed)
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %s", s.State())
	}
}

func TestDisconnectAfterServerDrop(t *testing.T) {
	ch := newFakeChannel()
	s := connected(t, ch)

	ch.mu.Lock()
	ch.connected = false
	ch.mu.Unlock()

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if ch.closed != 0 {
		t.Errorf("Close called %d times on a dropped channel, want 0", ch.closed)
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %s, want %s", s.State(), StateDisconnected)
	}
}

func TestRunProgramRecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ch := newFakeChannel()
	ch.onEmit = func(f *fakeChannel) { f.fire(EventExit, `{"code":0}`) }
	s := New("user-01", ch, Options{Tracer: tp.Tracer("test")})
	s.Connect(context.Background())
	s.RunProgram(context.Background(), "python", helloProgram(), time.Second)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "session.run" {
		t.Errorf("span name = %q", spans[0].Name)
	}
}
