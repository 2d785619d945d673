// Package dashboard renders a live terminal view of a running load test.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/coderunner/loadtest/internal/metrics"
)

const historySize = 100

// TestConfig holds the run parameters shown in the summary panel.
type TestConfig struct {
	Target        string
	Sessions      int
	Mode          string
	RampBatchSize int
	RampInterval  time.Duration
	Timeout       time.Duration
	ConnectRate   float64
	ConfigFile    string
}

// Dashboard renders a live terminal UI for load test metrics.
type Dashboard struct {
	collector    *metrics.Collector
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid          *ui.Grid
	summaryPara   *widgets.Paragraph
	progressGauge *widgets.Gauge
	countersPara  *widgets.Paragraph
	execSparkline *widgets.SparklineGroup
	execPara      *widgets.Paragraph
	resourceSpark *widgets.SparklineGroup
	recentList    *widgets.List
	reasonList    *widgets.List

	execHistory      []float64
	containerHistory []float64
	memoryHistory    []float64
	startTime        time.Time
	testConfig       TestConfig
}

// New initialises the terminal and creates a Dashboard. shutdownFunc is
// called when the user presses q or Ctrl-C.
func New(collector *metrics.Collector, cfg TestConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		collector:        collector,
		ctx:              ctx,
		cancel:           cancel,
		shutdownFunc:     shutdownFunc,
		execHistory:      make([]float64, 0, historySize),
		containerHistory: make([]float64, 0, historySize),
		memoryHistory:    make([]float64, 0, historySize),
		startTime:        time.Now(),
		testConfig:       cfg,
	}

	d.initWidgets()
	d.setupGrid()

	return d, nil
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Test Summary"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.progressGauge = widgets.NewGauge()
	d.progressGauge.Title = "Executions Completed"
	d.progressGauge.BarColor = ui.ColorBlue
	d.progressGauge.BorderStyle.Fg = ui.ColorCyan
	d.progressGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.countersPara = widgets.NewParagraph()
	d.countersPara.Title = "Sessions"
	d.countersPara.Text = "Waiting for data..."
	d.countersPara.BorderStyle.Fg = ui.ColorCyan

	execLine := widgets.NewSparkline()
	execLine.Title = "Execution time (ms)"
	execLine.LineColor = ui.ColorGreen
	execLine.Data = []float64{0}
	d.execSparkline = widgets.NewSparklineGroup(execLine)
	d.execSparkline.Title = "Execution Time"
	d.execSparkline.BorderStyle.Fg = ui.ColorCyan

	d.execPara = widgets.NewParagraph()
	d.execPara.Title = "Execution Stats"
	d.execPara.Text = execText(metrics.Stats{})
	d.execPara.BorderStyle.Fg = ui.ColorCyan

	containers := widgets.NewSparkline()
	containers.Title = "Containers"
	containers.LineColor = ui.ColorMagenta
	containers.Data = []float64{0}
	memory := widgets.NewSparkline()
	memory.Title = "Memory (MB)"
	memory.LineColor = ui.ColorYellow
	memory.Data = []float64{0}
	d.resourceSpark = widgets.NewSparklineGroup(containers, memory)
	d.resourceSpark.Title = "Runner Containers"
	d.resourceSpark.BorderStyle.Fg = ui.ColorCyan

	d.recentList = widgets.NewList()
	d.recentList.Title = "Recent Executions"
	d.recentList.Rows = []string{"Awaiting data"}
	d.recentList.BorderStyle.Fg = ui.ColorCyan

	d.reasonList = widgets.NewList()
	d.reasonList.Title = "Failures"
	d.reasonList.Rows = formatReasonRows(metrics.Stats{})
	d.reasonList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.reasonList.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.18,
			ui.NewCol(0.5, d.progressGauge),
			ui.NewCol(0.5, d.countersPara),
		),
		ui.NewRow(0.24,
			ui.NewCol(0.65, d.execSparkline),
			ui.NewCol(0.35, d.execPara),
		),
		ui.NewRow(0.18,
			ui.NewCol(1.0, d.resourceSpark),
		),
		ui.NewRow(0.26,
			ui.NewCol(0.65, d.recentList),
			ui.NewCol(0.35, d.reasonList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop cancels the loop once the run has drained.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := time.Since(d.startTime)
	stats := d.collector.Stats(elapsed)

	if stats.Completed > 0 {
		d.execHistory = pushHistory(d.execHistory, stats.MeanExecTimeMs)
		d.execSparkline.Sparklines[0].Data = d.execHistory
		d.execSparkline.Title = fmt.Sprintf("Execution Time | Mean: %.0fms | P90: %.0fms | Max: %.0fms",
			stats.MeanExecTimeMs, stats.P90ExecTimeMs, stats.MaxExecTimeMs)
	}

	d.containerHistory = pushHistory(d.containerHistory, float64(stats.Containers))
	d.memoryHistory = pushHistory(d.memoryHistory, stats.MemoryMB)
	d.resourceSpark.Sparklines[0].Data = d.containerHistory
	d.resourceSpark.Sparklines[0].Title = fmt.Sprintf("Containers: %d (peak %d)", stats.Containers, stats.PeakContainers)
	d.resourceSpark.Sparklines[1].Data = d.memoryHistory
	d.resourceSpark.Sparklines[1].Title = fmt.Sprintf("Memory: %.0fMB (peak %.0fMB)", stats.MemoryMB, stats.PeakMemoryMB)

	d.progressGauge.Percent = progressPercent(stats)
	d.progressGauge.Label = fmt.Sprintf("%d/%d (%d%%)", stats.Completed, stats.Planned, d.progressGauge.Percent)

	d.summaryPara.Text = summaryText(d.testConfig, stats, elapsed)
	d.countersPara.Text = countersText(stats)
	d.execPara.Text = execText(stats)
	d.recentList.Rows = formatRecentRows(d.collector.Recent())
	d.reasonList.Rows = formatReasonRows(stats)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func pushHistory(history []float64, v float64) []float64 {
	history = append(history, v)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func progressPercent(stats metrics.Stats) int {
	if stats.Planned <= 0 {
		return 0
	}
	pct := int(stats.Completed * 100 / stats.Planned)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func summaryText(cfg TestConfig, stats metrics.Stats, elapsed time.Duration) string {
	successRate := 0.0
	if stats.Completed > 0 {
		successRate = float64(stats.Successes) / float64(stats.Completed) * 100
	}
	return fmt.Sprintf("Target: %s\n%s\nElapsed: %s | Completed: %d | Success Rate: %.1f%%",
		cfg.Target,
		formatTestParams(cfg),
		elapsed.Round(time.Second),
		stats.Completed,
		successRate,
	)
}

func countersText(stats metrics.Stats) string {
	return fmt.Sprintf(
		"Planned:           %d\nConnected:         %d\nConnect failures:  %d\nRunning:           %d\nSucceeded:         %d\nFailed:            %d",
		stats.Planned,
		stats.Connected,
		stats.ConnectFailures,
		stats.Running,
		stats.Successes,
		stats.Failures,
	)
}

func execText(stats metrics.Stats) string {
	return fmt.Sprintf(
		"Min:  %.0fms\nMean: %.0fms\nP50:  %.0fms\nP90:  %.0fms\nP99:  %.0fms\nMax:  %.0fms",
		stats.MinExecTimeMs,
		stats.MeanExecTimeMs,
		stats.P50ExecTimeMs,
		stats.P90ExecTimeMs,
		stats.P99ExecTimeMs,
		stats.MaxExecTimeMs,
	)
}

// formatRecentRows lists executions newest first.
func formatRecentRows(recent []metrics.Execution) []string {
	if len(recent) == 0 {
		return []string{"Awaiting data"}
	}
	rows := make([]string, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		e := recent[i]
		mark := "[✓](fg:green)"
		suffix := ""
		if !e.Success {
			mark = "[✗](fg:red)"
			if e.Reason != "" {
				suffix = fmt.Sprintf(" [(%s)](fg:yellow)", e.Reason)
			}
		}
		rows = append(rows, fmt.Sprintf("%s [%s](fg:cyan) %s/%s - %dms%s",
			mark, e.Session, e.Language, e.Program, e.ExecutionTime.Milliseconds(), suffix))
	}
	return rows
}

func formatReasonRows(stats metrics.Stats) []string {
	reasons := stats.SortedReasons()
	rows := make([]string, 0, len(reasons)+1)
	if stats.ConnectFailures > 0 {
		rows = append(rows, fmt.Sprintf("[connect failed](fg:red) %d", stats.ConnectFailures))
	}
	for _, reason := range reasons {
		rows = append(rows, fmt.Sprintf("[%s](fg:red) %d", reason, stats.FailureReasons[reason]))
	}
	if len(rows) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	return rows
}

func formatTestParams(cfg TestConfig) string {
	var parts []string

	if cfg.Sessions > 0 {
		parts = append(parts, fmt.Sprintf("Sessions: %d", cfg.Sessions))
	}

	mode := strings.ToUpper(cfg.Mode)
	if mode == "" {
		mode = "BURST"
	}
	if strings.EqualFold(cfg.Mode, "ramp") {
		parts = append(parts, fmt.Sprintf("Mode: %s (%d every %s)", mode, cfg.RampBatchSize, cfg.RampInterval))
	} else {
		parts = append(parts, fmt.Sprintf("Mode: %s", mode))
	}

	if cfg.ConnectRate > 0 {
		parts = append(parts, fmt.Sprintf("Connect rate: %g/s", cfg.ConnectRate))
	}

	if cfg.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", cfg.Timeout))
	}

	if cfg.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", cfg.ConfigFile))
	}

	return strings.Join(parts, " | ")
}
