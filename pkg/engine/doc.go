// Package engine provides the run orchestration engine for tokei.
//
// # Overview
//
// A run turns the user's configuration into a numbered daily report. The
// engine sequences the work and owns the outcome; the actual data
// collection, aggregation and drawing happen in external collaborators:
//
//  1. ConfigReady - Load and validate config.json (config.Store)
//  2. ProducersRefreshed - Ask each producer for a fresh export (Refresher)
//  3. Syncing - Invoke the metric source adapter (Adapter)
//  4. DuplicateDetected - Resolve an already-generated day (Prompter)
//  5. ReportFresh - The finalized stats document exists
//  6. Rendering - Render image and markup into place (Renderer)
//  7. Done, Failed or Cancelled
//
// # Run Modes
//
//   - ModeFull: every step above
//   - ModeSyncOnly: stops after ReportFresh
//   - ModeNoSync: skips producer refresh and passes --no-sync to the adapter
//
// # Outcomes
//
// Every run ends in exactly one Outcome whose Kind maps to the process exit
// code:
//
//   - success: 0
//   - configuration_error: 1
//   - external_service_error: 2
//   - storage_error: 3
//   - unclassified: 99
//
// Adapter failures are classified from the adapter's exit code first and,
// failing that, from known stderr fingerprints (see Classify).
//
// # Usage
//
//	orch := &engine.Orchestrator{
//	    Paths:         paths,
//	    Store:         config.NewStore(paths.Config),
//	    Collaborators: collaborators,
//	    Prompter:      engine.NewLinePrompter(os.Stdin, os.Stderr),
//	}
//	report := orch.Run(ctx, engine.Options{Mode: engine.ModeFull, Interactive: true})
//	os.Exit(report.Outcome.ExitCode)
//
// A cancelled duplicate-day run exits 0 and leaves every file untouched.
package engine
