// Package metrics tracks the live state of a load test run.
//
// The [Collector] is fed by the orchestrator as sessions connect and finish
// and by the resource monitor on every snapshot. It backs the progress line
// and the terminal dashboard; the persisted report is built separately from
// the final results.
//
//	collector := metrics.NewCollector(20)
//	collector.Start()
//	collector.RecordConnect(true)
//	collector.RecordStarted()
//	collector.RecordExecution(metrics.Execution{Session: "user-01", Success: true, ExecutionTime: 120 * time.Millisecond})
//	stats := collector.Stats(time.Since(start))
//
// All methods are safe for concurrent use.
package metrics
