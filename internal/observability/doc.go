// Package observability provides structured logging and distributed tracing
// for authgate.
//
// Logging is built on zap behind a small Logger interface so that every
// component can accept a logger without depending on zap directly. Tracing
// is built on OpenTelemetry with an optional OTLP gRPC exporter; when
// tracing is disabled the global no-op tracer provider is used and spans
// cost nothing.
package observability
