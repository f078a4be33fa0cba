// Package observability provides an OpenTelemetry-based metrics extension.
// The MetricsExtension implements lifecycle hooks to record system-wide
// counters for membership churn, elections, unit scheduling, job outcomes,
// and cracked credentials, plus a gauge for the current leader term and a
// histogram of job durations.
package observability
