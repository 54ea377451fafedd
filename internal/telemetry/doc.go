// Package telemetry sets up OpenTelemetry tracing and metrics for the
// service and offers span helpers for the search and governance stages.
// With telemetry disabled the global noop providers are kept.
package telemetry
