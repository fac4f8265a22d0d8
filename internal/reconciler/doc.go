// Package reconciler merges coordinator events into the device registry.
//
// A single consumer goroutine owns every registry mutation, so per-device
// event order is preserved and no write ever races another. Everything the
// rest of the gateway wants changed about a device — a rename, a removal,
// an attribute report — funnels through this loop.
package reconciler
