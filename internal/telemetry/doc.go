// Package telemetry wires OpenTelemetry tracing and metrics for the tracing
// demo service.
//
// Init builds the tracer and meter providers together with their exporters
// and hands them back in a Provider. Nothing in this package installs global
// providers: components receive a trace.Tracer or metric.Meter from the
// Provider through their constructors. WithSpan is the scoped span helper
// used around every unit of work, and Instruments groups the demo specific
// counters, histograms and gauges behind small recording methods.
package telemetry
