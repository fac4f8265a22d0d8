// Package influxdb provides optional time-series history for device
// attributes.
//
// When enabled in configuration, the reconciler hands every accepted
// attribute delta to this package, which batches and writes points to
// an InfluxDB v2 bucket. The device registry remains the source of
// truth for current state; InfluxDB only records the history.
//
// Writes are non-blocking. A write failure never blocks or fails state
// reconciliation - errors surface through the SetOnError callback and
// are logged.
package influxdb
