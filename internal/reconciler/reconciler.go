package reconciler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/zigbridge/internal/coordinator"
	"github.com/nerrad567/zigbridge/internal/device"
)

const (
	// eventQueueSize bounds the inbound event queue. The coordinator
	// drops events rather than block its receive loop, so this only
	// needs to absorb short bursts.
	eventQueueSize = 256

	// commandQueueSize bounds the outbound command queue.
	commandQueueSize = 64

	// commandTimeout is the per-command send deadline.
	commandTimeout = 5 * time.Second

	// drainGracePeriod bounds how long shutdown waits for queued events
	// to finish processing.
	drainGracePeriod = 5 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// JoinGate decides whether an unknown device may pair.
// Satisfied by *joinwindow.Controller.
type JoinGate interface {
	Allows(addr string) bool
}

// CommandSender is the coordinator send path.
// Satisfied by *coordinator.Client.
type CommandSender interface {
	SendCommand(ctx context.Context, cmd coordinator.Command) error
}

// History receives accepted values for optional time-series recording.
// Satisfied by *influxdb.Client. Writes are fire-and-forget.
type History interface {
	WriteAttribute(addr string, attribute string, value float64, timestamp time.Time)
	WriteAvailability(addr string, online bool)
	WriteLinkQuality(addr string, lqi int)
}

// Stats holds reconciler counters. All values are cumulative.
type Stats struct {
	EventsProcessed uint64
	EventsStale     uint64 // Dropped: older than the device's LastSeen
	EventsUnknown   uint64 // Dropped: non-join event from unknown device
	EventsDropped   uint64 // Dropped: inbound queue full
	JoinsAccepted   uint64
	JoinsRejected   uint64 // Join request outside an open window
	CommandsSent    uint64
	CommandsFailed  uint64
	SweepOffline    uint64 // Devices marked offline by the silence sweep
}

// controlRequest is an operator mutation routed through the event loop so
// it serialises with event processing.
type controlRequest struct {
	apply func(ctx context.Context) error
	done  chan error
}

// Reconciler owns all registry mutation. Events from the coordinator,
// commands from the bus and operator control actions all converge here.
type Reconciler struct {
	registry *device.Registry
	gate     JoinGate
	sender   CommandSender

	silenceThreshold time.Duration
	sweepInterval    time.Duration

	events   chan coordinator.Event
	commands chan coordinator.Command
	control  chan controlRequest

	logger    Logger
	onChange  func(Change)
	onCmdFail func(cmd coordinator.Command, err error)
	history   History

	stopOnce sync.Once
	stop     chan struct{}
	loopDone chan struct{}
	cmdDone  chan struct{}

	eventsProcessed atomic.Uint64
	eventsStale     atomic.Uint64
	eventsUnknown   atomic.Uint64
	eventsDropped   atomic.Uint64
	joinsAccepted   atomic.Uint64
	joinsRejected   atomic.Uint64
	commandsSent    atomic.Uint64
	commandsFailed  atomic.Uint64
	sweepOffline    atomic.Uint64
}

// New creates a reconciler over the given registry, join gate and
// coordinator send path. Call Start before feeding events.
func New(registry *device.Registry, gate JoinGate, sender CommandSender, silenceThreshold, sweepInterval time.Duration) *Reconciler {
	return &Reconciler{
		registry:         registry,
		gate:             gate,
		sender:           sender,
		silenceThreshold: silenceThreshold,
		sweepInterval:    sweepInterval,
		events:           make(chan coordinator.Event, eventQueueSize),
		commands:         make(chan coordinator.Command, commandQueueSize),
		control:          make(chan controlRequest),
		stop:             make(chan struct{}),
		loopDone:         make(chan struct{}),
		cmdDone:          make(chan struct{}),
	}
}

// SetLogger installs a logger. Must be called before Start.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// SetOnChange installs the change callback, invoked from the consumer
// goroutine after each successful registry write. The callback must not
// block; the relay queues internally.
func (r *Reconciler) SetOnChange(fn func(Change)) {
	r.onChange = fn
}

// SetOnCommandFailure installs the callback for commands that were
// accepted into the queue but failed at the coordinator.
func (r *Reconciler) SetOnCommandFailure(fn func(cmd coordinator.Command, err error)) {
	r.onCmdFail = fn
}

// SetHistory installs the optional time-series recorder.
func (r *Reconciler) SetHistory(h History) {
	r.history = h
}

// Start launches the consumer loop and the command worker.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
	go r.commandWorker(ctx)
}

// Stop shuts the reconciler down, draining queued events for at most
// drainGracePeriod. Safe to call more than once.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.loopDone
	<-r.cmdDone
}

// HandleEvent enqueues a coordinator event. Never blocks: when the queue
// is full the event is dropped and counted, matching the transport's
// drop-rather-than-stall policy.
func (r *Reconciler) HandleEvent(ev coordinator.Event) {
	select {
	case r.events <- ev:
	default:
		r.eventsDropped.Add(1)
		r.logWarn("event queue full, dropping event", "addr", ev.Addr, "kind", ev.Kind.String())
	}
}

// EnqueueCommand validates a device command and queues it for delivery.
// Validation errors (unknown, removed, offline device) are returned
// synchronously so the caller can dead-letter immediately; delivery
// failures are reported through the command-failure callback.
func (r *Reconciler) EnqueueCommand(ctx context.Context, cmd coordinator.Command) error {
	d, err := r.registry.Get(ctx, cmd.Addr)
	if err != nil {
		return err
	}
	if !d.Online {
		return ErrDeviceOffline
	}

	select {
	case r.commands <- cmd:
		return nil
	case <-r.stop:
		return ErrStopped
	default:
		return ErrQueueFull
	}
}

// Rename changes a device's name. Runs on the consumer goroutine so it
// serialises with event processing.
func (r *Reconciler) Rename(ctx context.Context, addr, name string) error {
	return r.submit(ctx, func(c context.Context) error {
		return r.registry.Rename(c, addr, name)
	})
}

// RemoveDevice soft-deletes a device. Operator action only; a device
// leaving the network on its own merely goes offline.
func (r *Reconciler) RemoveDevice(ctx context.Context, addr string) error {
	return r.submit(ctx, func(c context.Context) error {
		return r.registry.Remove(c, addr)
	})
}

// ListDevices returns a snapshot of the device table. Read-only, served
// straight from the registry cache.
func (r *Reconciler) ListDevices() []device.Device {
	return r.registry.List()
}

// Stats returns a snapshot of the reconciler counters.
func (r *Reconciler) Stats() Stats {
	return Stats{
		EventsProcessed: r.eventsProcessed.Load(),
		EventsStale:     r.eventsStale.Load(),
		EventsUnknown:   r.eventsUnknown.Load(),
		EventsDropped:   r.eventsDropped.Load(),
		JoinsAccepted:   r.joinsAccepted.Load(),
		JoinsRejected:   r.joinsRejected.Load(),
		CommandsSent:    r.commandsSent.Load(),
		CommandsFailed:  r.commandsFailed.Load(),
		SweepOffline:    r.sweepOffline.Load(),
	}
}

// submit routes a mutation through the consumer loop and waits for it.
func (r *Reconciler) submit(ctx context.Context, apply func(context.Context) error) error {
	req := controlRequest{apply: apply, done: make(chan error, 1)}

	select {
	case r.control <- req:
	case <-r.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the single consumer goroutine. Every registry mutation in the
// process happens here.
func (r *Reconciler) run(ctx context.Context) {
	defer close(r.loopDone)

	sweep := time.NewTicker(r.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case ev := <-r.events:
			r.processEvent(ctx, ev)
		case req := <-r.control:
			req.done <- req.apply(ctx)
		case <-sweep.C:
			r.sweepSilent(ctx)
		case <-r.stop:
			r.drainEvents(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

// drainEvents processes already-queued events during shutdown, bounded by
// drainGracePeriod.
func (r *Reconciler) drainEvents(ctx context.Context) {
	deadline := time.After(drainGracePeriod)
	for {
		select {
		case ev := <-r.events:
			r.processEvent(ctx, ev)
		case <-deadline:
			r.logWarn("shutdown drain timed out", "remaining", len(r.events))
			return
		default:
			return
		}
	}
}

// processEvent merges one coordinator event into the registry.
func (r *Reconciler) processEvent(ctx context.Context, ev coordinator.Event) {
	r.eventsProcessed.Add(1)

	switch ev.Kind {
	case coordinator.EventJoinRequest:
		r.handleJoin(ctx, ev)
	case coordinator.EventStateReport, coordinator.EventHeartbeat:
		r.handleReport(ctx, ev)
	case coordinator.EventLeave:
		r.handleLeave(ctx, ev)
	default:
		r.logDebug("ignoring event with unknown kind", "addr", ev.Addr)
	}
}

// handleReport applies a state report or heartbeat from a known device.
func (r *Reconciler) handleReport(ctx context.Context, ev coordinator.Event) {
	d, err := r.registry.Get(ctx, ev.Addr)
	if err != nil {
		// State reports only update devices that completed a join.
		r.eventsUnknown.Add(1)
		r.logDebug("dropping event from unknown device", "addr", ev.Addr, "kind", ev.Kind.String())
		return
	}

	// Radio meshes reorder; anything older than the newest accepted
	// event is stale and must not regress the current state.
	if ev.Timestamp.Before(d.LastSeen) {
		r.eventsStale.Add(1)
		r.logDebug("dropping stale event",
			"addr", ev.Addr, "event_ts", ev.Timestamp, "last_seen", d.LastSeen)
		return
	}

	delta := computeDelta(d.Attributes, ev.Attributes)

	res, err := r.registry.Upsert(ctx, ev.Addr, nil, delta, ev.Timestamp)
	if err != nil {
		r.logError("registry upsert failed", "addr", ev.Addr, "error", err)
		return
	}

	if res.BackOnline {
		r.emit(Change{Kind: ChangeOnline, Addr: ev.Addr})
		if r.history != nil {
			r.history.WriteAvailability(ev.Addr, true)
		}
	}
	if len(delta) > 0 {
		r.emit(Change{Kind: ChangeAttributes, Addr: ev.Addr, Attributes: delta})
		r.recordHistory(ev.Addr, delta, ev.Timestamp)
	}
	if r.history != nil && ev.LQI > 0 {
		r.history.WriteLinkQuality(ev.Addr, ev.LQI)
	}
}

// handleJoin admits a new device when the join window allows it. A join
// announcement from an already-known device just refreshes liveness.
func (r *Reconciler) handleJoin(ctx context.Context, ev coordinator.Event) {
	if _, err := r.registry.Get(ctx, ev.Addr); err == nil {
		r.handleReport(ctx, ev)
		return
	} else if !errors.Is(err, device.ErrDeviceNotFound) && !errors.Is(err, device.ErrDeviceRemoved) {
		r.logError("registry lookup failed", "addr", ev.Addr, "error", err)
		return
	}

	if !r.gate.Allows(ev.Addr) {
		r.joinsRejected.Add(1)
		r.logWarn("join rejected, window closed or address not allowed", "addr", ev.Addr)
		return
	}

	res, err := r.registry.Upsert(ctx, ev.Addr, ev.Capabilities, ev.Attributes, ev.Timestamp)
	if err != nil {
		r.logError("device create failed", "addr", ev.Addr, "error", err)
		return
	}
	if !res.Created {
		// Lost a race with an earlier queued join for the same address;
		// the first one announced it.
		return
	}

	r.joinsAccepted.Add(1)
	r.logInfo("device joined", "addr", ev.Addr, "capabilities", len(ev.Capabilities))

	snapshot, err := r.registry.Get(ctx, ev.Addr)
	if err != nil {
		r.logError("snapshot after join failed", "addr", ev.Addr, "error", err)
		return
	}
	r.emit(Change{
		Kind:       ChangeJoined,
		Addr:       ev.Addr,
		Attributes: snapshot.Attributes,
		Device:     snapshot,
	})
	if r.history != nil {
		r.history.WriteAvailability(ev.Addr, true)
	}
}

// handleLeave marks a departing device offline. The record survives;
// removal is an operator decision.
func (r *Reconciler) handleLeave(ctx context.Context, ev coordinator.Event) {
	transitioned, err := r.registry.MarkOffline(ctx, ev.Addr, "left")
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			r.eventsUnknown.Add(1)
			return
		}
		r.logError("mark offline failed", "addr", ev.Addr, "error", err)
		return
	}
	if transitioned {
		r.logInfo("device left the network", "addr", ev.Addr)
		r.emit(Change{Kind: ChangeOffline, Addr: ev.Addr, Reason: "left"})
		if r.history != nil {
			r.history.WriteAvailability(ev.Addr, false)
		}
	}
}

// sweepSilent marks devices offline once their silence exceeds the
// threshold. MarkOffline reports whether this call made the transition,
// so repeated sweeps over an already-offline device emit nothing.
func (r *Reconciler) sweepSilent(ctx context.Context) {
	now := time.Now()
	for _, d := range r.registry.List() {
		if !d.Online || now.Sub(d.LastSeen) <= r.silenceThreshold {
			continue
		}

		transitioned, err := r.registry.MarkOffline(ctx, d.Addr, "silence")
		if err != nil {
			r.logError("silence sweep mark offline failed", "addr", d.Addr, "error", err)
			continue
		}
		if transitioned {
			r.sweepOffline.Add(1)
			r.logInfo("device silent beyond threshold, marking offline",
				"addr", d.Addr, "last_seen", d.LastSeen)
			r.emit(Change{Kind: ChangeOffline, Addr: d.Addr, Reason: "silence"})
			if r.history != nil {
				r.history.WriteAvailability(d.Addr, false)
			}
		}
	}
}

// commandWorker delivers queued commands to the coordinator.
func (r *Reconciler) commandWorker(ctx context.Context) {
	defer close(r.cmdDone)

	for {
		select {
		case cmd := <-r.commands:
			r.deliverCommand(ctx, cmd)
		case <-r.stop:
			// Flush whatever is already queued before exiting.
			for {
				select {
				case cmd := <-r.commands:
					r.deliverCommand(ctx, cmd)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// deliverCommand sends one command with a bounded deadline.
func (r *Reconciler) deliverCommand(ctx context.Context, cmd coordinator.Command) {
	sendCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := r.sender.SendCommand(sendCtx, cmd); err != nil {
		r.commandsFailed.Add(1)
		r.logWarn("command delivery failed",
			"addr", cmd.Addr, "attribute", cmd.Attribute, "error", err)
		if r.onCmdFail != nil {
			r.onCmdFail(cmd, err)
		}
		return
	}
	r.commandsSent.Add(1)
}

// emit invokes the change callback when one is installed.
func (r *Reconciler) emit(change Change) {
	if r.onChange != nil {
		r.onChange(change)
	}
}

// computeDelta returns the attributes whose incoming value differs from
// the current one. Re-reports of unchanged values produce no delta.
func computeDelta(current device.Attributes, incoming map[string]any) device.Attributes {
	if len(incoming) == 0 {
		return nil
	}
	delta := make(device.Attributes)
	for k, v := range incoming {
		cur, ok := current[k]
		if !ok || !valueEqual(cur, v) {
			delta[k] = v
		}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

// valueEqual compares attribute values. Numbers compare numerically:
// persisted values round-trip through JSON as float64 while freshly
// decoded ones arrive as int64, and that mismatch is not a change.
func valueEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// toFloat widens numeric attribute values for comparison and history.
func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// recordHistory forwards numeric values from a delta to the recorder.
func (r *Reconciler) recordHistory(addr string, delta device.Attributes, ts time.Time) {
	if r.history == nil {
		return
	}
	for name, value := range delta {
		if f, ok := toFloat(value); ok {
			r.history.WriteAttribute(addr, name, f, ts)
		}
	}
}

func (r *Reconciler) logDebug(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, keysAndValues...)
	}
}

func (r *Reconciler) logInfo(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *Reconciler) logWarn(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, keysAndValues...)
	}
}

func (r *Reconciler) logError(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Error(msg, keysAndValues...)
	}
}
