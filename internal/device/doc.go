// Package device holds the canonical view of every Zigbee device known to
// the gateway: an in-memory registry backed by write-through SQLite
// persistence, so the device table survives restarts.
//
// The registry is read by anything, but written by exactly one goroutine
// (the reconciler). All reads return deep copies so callers can never
// mutate shared state.
package device
