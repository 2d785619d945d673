// Package orchestrator drives a CodeRunner load test end to end.
//
// An [Orchestrator] assigns programs from a [corpus.Registry] to N simulated
// sessions, connects them and runs one submission per connected session
// while a resource monitor samples container usage in the background.
//
// # Modes
//
//   - [ModeBurst]: every session is connected concurrently, then every
//     connected session submits at once.
//   - [ModeRamp]: sessions are brought up in batches of RampBatchSize. Each
//     batch connects, starts its submissions in the background, and the
//     orchestrator pauses RampInterval before the next batch. There is no
//     pause after the last batch.
//
// # Basic Usage
//
//	o := orchestrator.New(orchestrator.Options{
//		Target:   "http://localhost:3000",
//		Sessions: 20,
//		Mode:     orchestrator.ModeBurst,
//		Registry: registry,
//		Dialer:   dial,
//		Monitor:  mon,
//	})
//	outcome, err := o.Run(ctx)
//
// A session that fails to connect is dropped: its program is not reassigned
// and it contributes no execution result. Connection attempts can be paced
// with ConnectRate.
package orchestrator
