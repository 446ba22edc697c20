// Package telemetry provides observability instrumentation for tokei runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and an in-process event publisher behind one Telemetry value
// that travels in the context.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//	cfg.Metrics.TextfilePath = filepath.Join(paths.State, "metrics.prom")
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//	ctx = telemetry.WithRunContext(ctx, runID, "run")
//
// # Metrics
//
// A tokei invocation lives for seconds, so nothing is served over HTTP.
// Shutdown writes the registry to the textfile path in the format read by
// the node-exporter textfile collector:
//
//   - tokei_runs_started_total{mode}
//   - tokei_runs_completed_total{status}
//   - tokei_run_duration_seconds{status}
//   - tokei_steps_executed_total{step,status}
//   - tokei_producer_refreshes_total{producer,result}
//   - tokei_classifications_total{kind}
//   - tokei_reports_rendered_total{resolution}
//   - tokei_last_run_exit_code
//
// # Events
//
// The EventPublisher delivers run timeline events (state changes, producer
// refreshes, warnings) to subscribers. The CLI subscribes the run ledger so
// every transition is persisted. Delivery is synchronous unless
// EventsConfig.EnableAsync is set.
//
// # Tracing
//
// The exporter is chosen by TracingConfig.Exporter: "none" (default),
// "stdout" for debugging, or "otlp" for a gRPC collector. One span is
// opened per run and per state machine step.
package telemetry
