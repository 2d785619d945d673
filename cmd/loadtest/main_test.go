package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/coderunner/loadtest/internal/config"
	"github.com/coderunner/loadtest/internal/monitor"
	"github.com/coderunner/loadtest/internal/socketio"
)

func TestMakeHeaders(t *testing.T) {
	got := makeHeaders(map[string]string{
		"authorization": "Bearer abc",
		"X-Custom":      "value",
	})
	if got.Get("Authorization") != "Bearer abc" {
		t.Errorf("Authorization = %q, want Bearer abc", got.Get("Authorization"))
	}
	if got.Get("X-Custom") != "value" {
		t.Errorf("X-Custom = %q, want value", got.Get("X-Custom"))
	}
}

func TestNewSampler(t *testing.T) {
	s, closeFn, err := newSampler(config.StatsSourceNone)
	if err != nil || s != nil {
		t.Fatalf("none: sampler = %v, err = %v", s, err)
	}
	closeFn()

	s, closeFn, err = newSampler(config.StatsSourceCLI)
	if err != nil {
		t.Fatalf("cli: err = %v", err)
	}
	if _, ok := s.(*monitor.CLISampler); !ok {
		t.Errorf("cli: sampler = %T, want *monitor.CLISampler", s)
	}
	closeFn()

	if _, _, err := newSampler("snmp"); err == nil {
		t.Error("expected error for unknown stats source")
	}
}

func TestNewDialerInjectsTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "batch")
	defer span.End()

	cfg := config.Defaults()
	headers := makeHeaders(map[string]string{"X-Api-Key": "k"})

	ch := newDialer(cfg, headers, true)(ctx, "user-01")
	if _, ok := ch.(*socketio.Client); !ok {
		t.Fatalf("channel = %T, want *socketio.Client", ch)
	}
	if headers.Get("Traceparent") != "" {
		t.Error("shared headers must not be mutated")
	}
}

func TestLoadRegistry(t *testing.T) {
	cfg := config.Defaults()
	cfg.Languages = []string{"python"}
	reg, err := loadRegistry(cfg)
	if err != nil {
		t.Fatalf("loadRegistry() error = %v", err)
	}
	if langs := reg.Languages(); len(langs) != 1 || langs[0] != "python" {
		t.Errorf("languages = %v, want [python]", langs)
	}

	cfg.Languages = nil
	cfg.ProgramsFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := loadRegistry(cfg); err == nil {
		t.Error("expected error for missing programs file")
	}
}

func TestDashboardConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = config.ModeRamp
	cfg.RampInterval = 3 * time.Second
	got := dashboardConfig(cfg)
	if got.Target != cfg.TargetURL || got.Mode != "ramp" || got.RampInterval != 3*time.Second {
		t.Errorf("dashboardConfig() = %+v", got)
	}
}

func TestRunHelp(t *testing.T) {
	if err := run([]string{"--help"}); err != nil {
		t.Errorf("run(--help) error = %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	if err := run([]string{"--sessions", "0"}); err == nil {
		t.Error("expected validation error for zero sessions")
	}
}

// fakeExecutionServer completes the Socket.IO handshake and answers every
// run event with one output event followed by a successful exit.
func fakeExecutionServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("transport") != "websocket" {
			http.Error(w, "bad transport", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"eio-1","upgrades":[],"pingInterval":25000,"pingTimeout":20000}`)); err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame := string(data)
			switch {
			case strings.HasPrefix(frame, "40"):
				if err := conn.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"sock-1"}`)); err != nil {
					return
				}
			case strings.HasPrefix(frame, `42["run"`):
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["output",{"data":"Hello\n"}]`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["exit",{"code":0,"executionTime":12}]`))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runArgs(target, dir string, extra ...string) []string {
	args := []string{
		"--target", target,
		"--sessions", "3",
		"--stats-source", "none",
		"--health-check=false",
		"--output", dir,
		"--json-output",
	}
	return append(args, extra...)
}

func readSavedReport(t *testing.T, dir string) map[string]interface{} {
	t.Helper()
	jsonFiles, err := filepath.Glob(filepath.Join(dir, "loadtest-burst-*.json"))
	if err != nil || len(jsonFiles) != 1 {
		t.Fatalf("JSON reports = %v (err %v), want exactly one", jsonFiles, err)
	}
	htmlPath := strings.TrimSuffix(jsonFiles[0], ".json") + ".html"
	if _, err := os.Stat(htmlPath); err != nil {
		t.Fatalf("HTML report missing: %v", err)
	}

	data, err := os.ReadFile(jsonFiles[0])
	if err != nil {
		t.Fatalf("read JSON report: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("JSON report is invalid: %v", err)
	}
	return decoded
}

func TestRunCompletesAndSavesReports(t *testing.T) {
	srv := fakeExecutionServer(t)
	dir := t.TempDir()

	if err := run(runArgs(srv.URL, dir)); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	rep := readSavedReport(t, dir)
	if rep["total_executions"].(float64) != 3 {
		t.Errorf("total_executions = %v, want 3", rep["total_executions"])
	}
	if rep["successful_executions"].(float64) != 3 {
		t.Errorf("successful_executions = %v, want 3", rep["successful_executions"])
	}
	if rep["num_students"].(float64) != 3 {
		t.Errorf("num_students = %v, want 3", rep["num_students"])
	}
}

func TestRunFailingThresholdReturnsError(t *testing.T) {
	srv := fakeExecutionServer(t)
	dir := t.TempDir()

	err := run(runArgs(srv.URL, dir, "--threshold", "executions:count >= 10"))
	if err == nil {
		t.Fatal("expected an error for the failed threshold")
	}
	if !strings.Contains(err.Error(), "1 of 1 thresholds failed") {
		t.Errorf("error = %v", err)
	}

	rep := readSavedReport(t, dir)
	if rep["total_executions"].(float64) != 3 {
		t.Errorf("total_executions = %v, want 3", rep["total_executions"])
	}
}
