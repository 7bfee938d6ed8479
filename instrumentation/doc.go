// Package instrumentation provides OpenTelemetry metrics and tracing for
// the authorization server.
//
// All components accept an optional *Instrumentation. When disabled (or when
// nil is passed) the no-op providers are used and instrumentation adds zero
// overhead. Metric instruments are created once in New and shared through
// the Metrics holder; storage gauges are wired by the store via
// RegisterStorageGauges.
//
// Scoped meters and tracers are named "github.com/Jahnik/mcp2/{scope}" where
// scope is a layer name such as "http", "server", or "storage".
package instrumentation
