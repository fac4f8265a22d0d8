// Package coordinator maintains the persistent link to the radio
// network coordinator and translates its wire frames into typed
// events.
//
// The coordinator (e.g. an SLZB-06M reachable over TCP) is the only
// path to the device mesh. The client here owns that connection:
// dialing, the version handshake, framed reads, automatic reconnection
// with exponential backoff, and a bounded worker pool that delivers
// decoded events to the reconciler.
//
// Two framing variants are supported, selected explicitly in
// configuration: "zstack" (length-prefixed MT frames) and "deconz"
// (SLIP-delimited frames). The variant is never auto-detected; the
// connect handshake fails loudly when it is wrong.
//
// Exactly one connectivity-lost notification fires per outage and one
// connectivity-restored notification on recovery, regardless of how
// many reconnection attempts happen in between.
package coordinator
