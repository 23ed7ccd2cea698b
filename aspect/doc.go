// Package aspect defines the telemetry hook the platform calls at method
// and operation boundaries.
//
// The core only ever talks to the Recorder interface; Noop() is the
// default. The OTelRecorder adapter maps the interface onto OpenTelemetry
// traces and metrics with OTLP HTTP export.
package aspect
