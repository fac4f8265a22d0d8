// Package logging provides structured logging built on log/slog.
//
// All components log through the same JSON (or text) handler with
// service and version fields attached, so a single broker-side log
// collector can correlate everything the gateway emits.
package logging
