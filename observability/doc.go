// Package observability provides an OpenTelemetry metrics extension for
// crank. The MetricsExtension implements lifecycle hooks to record
// worker-wide counters for rounds, submitted and failed batches, and
// skipped queues.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
