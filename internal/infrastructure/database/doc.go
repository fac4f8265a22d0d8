// Package database manages the SQLite store that survives gateway restarts.
//
// The device table and the append-only device_events journal live here,
// created by embedded SQL migrations that run at startup. SQLite is opened
// with WAL mode and a busy timeout so the single-writer reconciler and
// snapshot readers coexist without lock errors.
package database
