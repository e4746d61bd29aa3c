// Package otel bridges bidsession metrics into an OpenTelemetry meter.
//
// [NewOTelExporter] registers observable instruments for every bidsession
// counter and histogram bucket; values are pulled from a metrics snapshot on
// each collection cycle. Close unregisters the callback.
//
// # What this package must NOT do
//
//   - Configure an OTel SDK or exporter pipeline — callers own the meter.
//   - Mutate manager state.
package otel
