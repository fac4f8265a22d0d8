// Package relay bridges reconciled device state onto the MQTT bus and
// feeds bus traffic back into the gateway.
//
// Outbound: every attribute delta, join announcement and availability
// transition becomes an individual publish on a stable, address-derived
// topic. Delivery is at-least-once with bounded retries; a delta that
// cannot be delivered is logged and dropped, never allowed to stall the
// reconciler.
//
// Inbound: devices/{addr}/set carries device commands, gateway/request
// carries the operator control surface. Commands that cannot reach their
// device are answered on the per-device dead-letter topic, never silently
// discarded.
package relay
