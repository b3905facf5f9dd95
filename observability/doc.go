// Package observability provides OpenTelemetry tracing and metrics for
// pipeline runs.
//
// Setup installs OTLP/HTTP exporters when enabled:
//
//	shutdown, err := observability.Setup(ctx, cfg.Observability, "batchpredict", version.Version, "dev")
//	defer shutdown(ctx)
//
// A run gets a root span; each step span (see dag.WithTracing) is a child:
//
//	rc := observability.NewRunContext("prediction", runID, metrics)
//	ctx, span := rc.StartRun(ctx)
//	defer rc.EndRun(ctx, span, "succeeded", "", nil)
//
// Metrics:
//
//	metrics, err := observability.NewMetrics(observability.Meter("batchpredict"))
//	metrics.RecordOperation(ctx, "ingest-data", "dag.run", "ok", duration)
package observability
