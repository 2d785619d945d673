package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/coderunner/loadtest/internal/report"
	"github.com/coderunner/loadtest/internal/threshold"
)

// HTMLReportData contains all data needed for the HTML report template.
type HTMLReportData struct {
	GeneratedAt      string
	Report           report.Report
	ModeInfo         string
	SuccessRate      float64
	SuccessClass     string
	Languages        []report.Entry
	Categories       []report.Entry
	TimelineJSON     string
	HasTimeline      bool
	ThresholdSummary *ThresholdSummary
}

// ThresholdSummary aggregates threshold outcomes for the report.
type ThresholdSummary struct {
	Total   int
	Passed  int
	Failed  int
	Results []ThresholdResultJSON
}

// ThresholdResultJSON is one evaluated threshold in display form.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold"`
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
}

// SummarizeThresholds converts evaluation results for display. It returns nil
// when no thresholds were configured.
func SummarizeThresholds(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	summary := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResultJSON, len(results)),
	}
	for i, tr := range results {
		summary.Results[i] = ThresholdResultJSON{
			Threshold: tr.Threshold.Raw,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Actual:    tr.Actual,
			Pass:      tr.Pass,
		}
		if tr.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	return summary
}

// ModeInfo describes the run mode, e.g. "Mode: RAMP (2 users every 5s)".
func ModeInfo(r report.Report) string {
	info := "Mode: " + strings.ToUpper(r.Mode)
	if r.Mode == report.ModeRamp && r.RampInterval != nil && r.RampBatchSize != nil {
		info += fmt.Sprintf(" (%d users every %gs)", *r.RampBatchSize, *r.RampInterval)
	}
	return info
}

// RateClass maps a success percentage to the card colour class.
func RateClass(rate float64) string {
	switch {
	case rate >= 90:
		return "success"
	case rate >= 70:
		return "warning"
	default:
		return "error"
	}
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatFloat": func(f float64) string {
		return fmt.Sprintf("%.1f", f)
	},
	"formatMs": func(f float64) string {
		return fmt.Sprintf("%.0fms", f)
	},
	"rateBadge": func(rate float64) string {
		if rate >= 90 {
			return "badge-success"
		}
		return "badge-error"
	},
}).Parse(htmlTemplate))

// GenerateHTMLReport generates a standalone HTML report with an embedded
// resource usage chart.
func GenerateHTMLReport(w io.Writer, r report.Report, thresholdResults []threshold.Result) error {
	timeline := r.Timeline()
	timelineJSON, err := json.Marshal(timeline)
	if err != nil {
		return fmt.Errorf("failed to marshal timeline: %w", err)
	}

	rate := r.SuccessRate()
	data := HTMLReportData{
		GeneratedAt:      time.Now().Format(time.RFC3339),
		Report:           r,
		ModeInfo:         ModeInfo(r),
		SuccessRate:      rate,
		SuccessClass:     RateClass(rate),
		TimelineJSON:     string(timelineJSON),
		HasTimeline:      len(timeline) > 0,
		ThresholdSummary: SummarizeThresholds(thresholdResults),
	}
	if r.ExecutionsByLanguage != nil {
		data.Languages = r.ExecutionsByLanguage.Entries()
	}
	if r.ExecutionsByCategory != nil {
		data.Categories = r.ExecutionsByCategory.Entries()
	}

	if err := reportTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Load Test Report - {{.Report.TestID}}</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1400px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #0f766e 0%, #1e3a8a 100%);
            color: white;
            padding: 30px 40px;
        }
        header h1 {
            font-size: 2rem;
            margin-bottom: 10px;
        }
        header .meta {
            opacity: 0.9;
            font-size: 0.9rem;
        }
        .content {
            padding: 40px;
        }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(200px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #0f766e;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 10px;
        }
        .card .value {
            font-size: 2rem;
            font-weight: bold;
            color: #2c3e50;
        }
        .card.success {
            border-left-color: #10b981;
        }
        .card.error {
            border-left-color: #ef4444;
        }
        .card.warning {
            border-left-color: #f59e0b;
        }
        .section {
            margin-bottom: 40px;
        }
        .section h2 {
            font-size: 1.5rem;
            margin-bottom: 20px;
            padding-bottom: 10px;
            border-bottom: 2px solid #e5e7eb;
        }
        .chart-container {
            background: white;
            border-radius: 8px;
            padding: 20px;
            border: 1px solid #e5e7eb;
        }
        .chart {
            width: 100%;
            height: 300px;
        }
        table {
            width: 100%;
            border-collapse: collapse;
            background: white;
        }
        th, td {
            text-align: left;
            padding: 12px;
            border-bottom: 1px solid #e5e7eb;
        }
        th {
            background: #f8f9fa;
            font-weight: 600;
            color: #4b5563;
            font-size: 0.9rem;
            text-transform: uppercase;
            letter-spacing: 0.5px;
        }
        tr:hover {
            background: #f8f9fa;
        }
        .badge {
            display: inline-block;
            padding: 4px 12px;
            border-radius: 12px;
            font-size: 0.85rem;
            font-weight: 600;
        }
        .badge-success {
            background: #d1fae5;
            color: #065f46;
        }
        .badge-error {
            background: #fee2e2;
            color: #991b1b;
        }
        .no-data {
            text-align: center;
            padding: 40px;
            color: #6c757d;
            font-style: italic;
        }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.iife.min.js"></script>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.min.css">
</head>
<body>
    <div class="container">
        <header>
            <h1>CodeRunner Load Test Report</h1>
            <div class="meta">Test ID: {{.Report.TestID}} | Duration: {{formatFloat .Report.DurationSeconds}}s | Server: {{.Report.ServerURL}}</div>
            <div class="meta">{{.ModeInfo}}</div>
            <div class="meta">Generated: {{.GeneratedAt}}</div>
        </header>

        <div class="content">
            <!-- Summary Cards -->
            <div class="grid">
                <div class="card">
                    <h3>Total Executions</h3>
                    <div class="value">{{.Report.TotalExecutions}}</div>
                </div>
                <div class="card {{.SuccessClass}}">
                    <h3>Success Rate</h3>
                    <div class="value">{{formatFloat .SuccessRate}}%</div>
                </div>
                <div class="card">
                    <h3>Avg Execution Time</h3>
                    <div class="value">{{formatMs .Report.AvgExecutionTimeMs}}</div>
                </div>
                <div class="card">
                    <h3>Peak Containers</h3>
                    <div class="value">{{.Report.PeakContainers}}</div>
                </div>
                <div class="card">
                    <h3>Peak Memory</h3>
                    <div class="value">{{formatFloat .Report.PeakMemoryMB}}MB</div>
                </div>
                <div class="card">
                    <h3>Sessions Simulated</h3>
                    <div class="value">{{.Report.NumSessions}}</div>
                </div>
            </div>

            <!-- Execution Time -->
            <div class="section">
                <h2>Execution Time</h2>
                <table>
                    <thead>
                        <tr><th>Min</th><th>Mean</th><th>P50</th><th>P90</th><th>P99</th><th>Max</th></tr>
                    </thead>
                    <tbody>
                        <tr>
                            <td>{{formatMs .Report.MinExecutionTimeMs}}</td>
                            <td>{{formatMs .Report.AvgExecutionTimeMs}}</td>
                            <td>{{formatMs .Report.P50ExecutionTimeMs}}</td>
                            <td>{{formatMs .Report.P90ExecutionTimeMs}}</td>
                            <td>{{formatMs .Report.P99ExecutionTimeMs}}</td>
                            <td>{{formatMs .Report.MaxExecutionTimeMs}}</td>
                        </tr>
                    </tbody>
                </table>
            </div>

            <!-- Results by Language -->
            <div class="section">
                <h2>Results by Language</h2>
                {{if .Languages}}
                <table>
                    <thead>
                        <tr><th>Language</th><th>Total</th><th>Success</th><th>Failed</th><th>Rate</th></tr>
                    </thead>
                    <tbody>
                        {{range .Languages}}
                        <tr>
                            <td><strong>{{.Key}}</strong></td>
                            <td>{{.Total}}</td>
                            <td>{{.Success}}</td>
                            <td>{{.Failed}}</td>
                            <td><span class="badge {{rateBadge .Rate}}">{{printf "%.0f" .Rate}}%</span></td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
                {{else}}
                <div class="no-data">No executions</div>
                {{end}}
            </div>

            <!-- Results by Category -->
            <div class="section">
                <h2>Results by Category</h2>
                {{if .Categories}}
                <table>
                    <thead>
                        <tr><th>Category</th><th>Total</th><th>Success</th><th>Failed</th><th>Rate</th></tr>
                    </thead>
                    <tbody>
                        {{range .Categories}}
                        <tr>
                            <td><strong>{{.Key}}</strong></td>
                            <td>{{.Total}}</td>
                            <td>{{.Success}}</td>
                            <td>{{.Failed}}</td>
                            <td><span class="badge {{rateBadge .Rate}}">{{printf "%.0f" .Rate}}%</span></td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
                {{else}}
                <div class="no-data">No executions</div>
                {{end}}
            </div>

            <!-- Resource Usage -->
            <div class="section">
                <h2>Resource Usage Over Time</h2>
                <div class="chart-container">
                    {{if .HasTimeline}}
                    <div id="resource-chart" class="chart"></div>
                    {{else}}
                    <div class="no-data">No resource snapshots were captured</div>
                    {{end}}
                </div>
            </div>

            <!-- Thresholds -->
            {{if .ThresholdSummary}}
            <div class="section">
                <h2>Thresholds ({{.ThresholdSummary.Passed}}/{{.ThresholdSummary.Total}} Passed)</h2>
                <table>
                    <thead>
                        <tr>
                            <th>Threshold</th>
                            <th>Metric</th>
                            <th>Expected</th>
                            <th>Actual</th>
                            <th>Status</th>
                        </tr>
                    </thead>
                    <tbody>
                        {{range .ThresholdSummary.Results}}
                        <tr>
                            <td>{{.Threshold}}</td>
                            <td>{{.Metric}} ({{.Aggregate}})</td>
                            <td>{{.Operator}} {{printf "%.2f" .Expected}}</td>
                            <td>{{printf "%.2f" .Actual}}</td>
                            <td>
                                {{if .Pass}}
                                <span class="badge badge-success">✓ PASS</span>
                                {{else}}
                                <span class="badge badge-error">✗ FAIL</span>
                                {{end}}
                            </td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            <!-- Execution Details -->
            <div class="section">
                <h2>Execution Details</h2>
                <table>
                    <thead>
                        <tr><th>Session</th><th>Language</th><th>Program</th><th>Status</th><th>Time</th></tr>
                    </thead>
                    <tbody>
                        {{range .Report.ExecutionResults}}
                        <tr>
                            <td>{{.SessionName}}</td>
                            <td>{{.Language}}</td>
                            <td>{{.ProgramName}}</td>
                            <td>
                                {{if .Success}}
                                <span class="badge badge-success">✓ Success</span>
                                {{else}}
                                <span class="badge badge-error" title="{{.Error}}">✗ Failed</span>
                                {{end}}
                            </td>
                            <td>{{formatMs .ExecutionTimeMs}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
        </div>
    </div>

    {{if .HasTimeline}}
    <script>
        const timelineJSON = {{.TimelineJSON}};
        const timeline = JSON.parse(timelineJSON);

        if (timeline && timeline.length > 0) {
            const el = document.getElementById('resource-chart');
            const data = [
                timeline.map(p => p.t),
                timeline.map(p => p.containers),
                timeline.map(p => p.memory_mb)
            ];

            new uPlot({
                title: "Containers and Memory",
                width: el.offsetWidth,
                height: 300,
                scales: { x: { time: false } },
                series: [
                    { label: "Time (s)" },
                    {
                        label: "Containers",
                        stroke: "#0f766e",
                        fill: "rgba(15, 118, 110, 0.1)",
                        width: 2,
                        scale: "containers"
                    },
                    {
                        label: "Memory (MB)",
                        stroke: "#f59e0b",
                        width: 2,
                        scale: "mb"
                    }
                ],
                axes: [
                    { label: "Time (seconds)" },
                    { label: "Containers", scale: "containers" },
                    { label: "Memory (MB)", scale: "mb", side: 1, grid: { show: false } }
                ]
            }, data, el);
        }
    </script>
    {{end}}
</body>
</html>
`
