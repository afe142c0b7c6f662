// Package otel publishes careauth counters as OpenTelemetry observable
// instruments. The caller supplies the Meter; one callback reads an Engine
// snapshot per collection.
package otel
