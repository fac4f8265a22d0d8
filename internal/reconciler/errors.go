package reconciler

import "errors"

// Domain errors for the reconciler package, checked with errors.Is().
var (
	// ErrQueueFull is returned when the outbound command queue is full.
	ErrQueueFull = errors.New("reconciler: queue full")

	// ErrDeviceOffline is returned when a command targets a device that
	// is currently offline.
	ErrDeviceOffline = errors.New("reconciler: device offline")

	// ErrStopped is returned when the reconciler is shutting down.
	ErrStopped = errors.New("reconciler: stopped")
)
