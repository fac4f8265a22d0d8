package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/zigbridge/internal/coordinator"
	"github.com/nerrad567/zigbridge/internal/device"
	"github.com/nerrad567/zigbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/zigbridge/internal/joinwindow"
	"github.com/nerrad567/zigbridge/internal/reconciler"
)

const (
	// publishQueueSize bounds the outbound publish queue. Deltas beyond
	// this during a broker outage are dropped and counted.
	publishQueueSize = 512

	// publishRetryDelay spaces the bounded publish retries.
	publishRetryDelay = 500 * time.Millisecond

	// drainGracePeriod bounds how long shutdown waits for queued
	// publishes to flush.
	drainGracePeriod = 5 * time.Second

	// defaultJoinDuration applies when an open_join request omits the
	// duration.
	defaultJoinDuration = 254 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Bus is the MQTT surface the relay uses. Satisfied by *mqtt.Client.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	QoS() byte
}

// DeviceControl is the reconciler surface the relay drives.
// Satisfied by *reconciler.Reconciler.
type DeviceControl interface {
	EnqueueCommand(ctx context.Context, cmd coordinator.Command) error
	Rename(ctx context.Context, addr, name string) error
	RemoveDevice(ctx context.Context, addr string) error
	ListDevices() []device.Device
}

// JoinControl is the pairing-window surface the relay drives.
// Satisfied by *joinwindow.Controller.
type JoinControl interface {
	Open(duration time.Duration, allowlist []string) error
	Close()
	CurrentStatus() joinwindow.Status
}

// Stats holds relay counters. All values are cumulative.
type Stats struct {
	Published        uint64
	PublishDropped   uint64 // Exhausted retries, delta dropped
	QueueDropped     uint64 // Publish queue full
	CommandsAccepted uint64
	CommandsRejected uint64 // Dead-lettered at validation
	RequestsHandled  uint64
	RequestsFailed   uint64
}

// publishJob is one queued outbound message.
type publishJob struct {
	topic    string
	payload  []byte
	retained bool
}

// Relay connects the reconciler, the join window and the MQTT bus.
type Relay struct {
	bus     Bus
	control DeviceControl
	join    JoinControl
	logger  Logger

	retries int
	topics  mqtt.Topics

	queue    chan publishJob
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	published        atomic.Uint64
	publishDropped   atomic.Uint64
	queueDropped     atomic.Uint64
	commandsAccepted atomic.Uint64
	commandsRejected atomic.Uint64
	requestsHandled  atomic.Uint64
	requestsFailed   atomic.Uint64
}

// New creates a relay. retries is the number of times a publish is retried
// after the first failure before the message is dropped.
func New(bus Bus, control DeviceControl, join JoinControl, retries int) *Relay {
	return &Relay{
		bus:     bus,
		control: control,
		join:    join,
		retries: retries,
		queue:   make(chan publishJob, publishQueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetLogger installs a logger. Must be called before Start.
func (r *Relay) SetLogger(logger Logger) {
	r.logger = logger
}

// Start subscribes the inbound topics and launches the publish worker.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.bus.Subscribe(r.topics.AllDeviceSets(), r.bus.QoS(), r.handleSet(ctx)); err != nil {
		return fmt.Errorf("subscribing to device commands: %w", err)
	}
	if err := r.bus.Subscribe(r.topics.GatewayRequest(), r.bus.QoS(), r.handleRequest(ctx)); err != nil {
		return fmt.Errorf("subscribing to gateway requests: %w", err)
	}

	go r.publishWorker()
	return nil
}

// Stop flushes the publish queue within a bounded grace period.
// Safe to call more than once.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Published:        r.published.Load(),
		PublishDropped:   r.publishDropped.Load(),
		QueueDropped:     r.queueDropped.Load(),
		CommandsAccepted: r.commandsAccepted.Load(),
		CommandsRejected: r.commandsRejected.Load(),
		RequestsHandled:  r.requestsHandled.Load(),
		RequestsFailed:   r.requestsFailed.Load(),
	}
}

// HandleChange publishes one reconciled change. Wired as the reconciler's
// change callback; must never block, so it only enqueues.
func (r *Relay) HandleChange(change reconciler.Change) {
	switch change.Kind {
	case reconciler.ChangeAttributes:
		for name, value := range change.Attributes {
			r.enqueueAttribute(change.Addr, name, value)
		}
	case reconciler.ChangeJoined:
		r.enqueueJoined(change)
		r.enqueueAvailability(change.Addr, true, "")
		for name, value := range change.Attributes {
			r.enqueueAttribute(change.Addr, name, value)
		}
	case reconciler.ChangeOnline:
		r.enqueueAvailability(change.Addr, true, "")
	case reconciler.ChangeOffline:
		r.enqueueAvailability(change.Addr, false, change.Reason)
	}
}

// HandleCommandFailure dead-letters a command that was accepted but failed
// at the coordinator. Wired as the reconciler's command-failure callback.
func (r *Relay) HandleCommandFailure(cmd coordinator.Command, err error) {
	r.deadLetter(cmd.Addr, cmd.Attribute, cmd.Value, err)
}

// PublishJoinStatus announces a join window transition on gateway/join.
// Wired as the joinwindow observer.
func (r *Relay) PublishJoinStatus(status joinwindow.Status) {
	payload, err := json.Marshal(joinStatusPayload{
		Open:             status.Open,
		RemainingSeconds: int(status.Remaining.Round(time.Second).Seconds()),
		Allowlist:        status.Allowlist,
	})
	if err != nil {
		r.logError("marshalling join status", "error", err)
		return
	}
	r.enqueue(publishJob{topic: r.topics.GatewayJoin(), payload: payload, retained: true})
}

// enqueueAttribute queues one attribute value publish. State topics are
// retained so late subscribers see the current value.
func (r *Relay) enqueueAttribute(addr, attribute string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		r.logError("marshalling attribute value",
			"addr", addr, "attribute", attribute, "error", err)
		return
	}
	r.enqueue(publishJob{
		topic:    r.topics.DeviceAttribute(addr, attribute),
		payload:  payload,
		retained: true,
	})
}

// enqueueJoined queues the pairing announcement for a new device.
func (r *Relay) enqueueJoined(change reconciler.Change) {
	announcement := joinedPayload{Addr: change.Addr}
	if change.Device != nil {
		announcement.Name = change.Device.Name
		announcement.Capabilities = change.Device.Capabilities
		announcement.JoinedAt = change.Device.JoinedAt.UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(announcement)
	if err != nil {
		r.logError("marshalling join announcement", "addr", change.Addr, "error", err)
		return
	}
	r.enqueue(publishJob{topic: r.topics.DeviceJoined(change.Addr), payload: payload})
}

// enqueueAvailability queues a per-device online/offline transition.
func (r *Relay) enqueueAvailability(addr string, online bool, reason string) {
	state := "online"
	if !online {
		state = "offline"
	}
	payload, err := json.Marshal(availabilityPayload{State: state, Reason: reason})
	if err != nil {
		r.logError("marshalling availability", "addr", addr, "error", err)
		return
	}
	r.enqueue(publishJob{
		topic:    r.topics.DeviceAvailability(addr),
		payload:  payload,
		retained: true,
	})
}

// deadLetter publishes a failed command to the device's error topic.
func (r *Relay) deadLetter(addr, attribute string, value any, cause error) {
	r.commandsRejected.Add(1)

	payload, err := json.Marshal(deadLetterPayload{
		ID:        uuid.NewString(),
		Attribute: attribute,
		Value:     value,
		Error:     cause.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		r.logError("marshalling dead letter", "addr", addr, "error", err)
		return
	}

	r.logWarn("command dead-lettered",
		"addr", addr, "attribute", attribute, "reason", cause.Error())
	r.enqueue(publishJob{topic: r.topics.DeviceError(addr), payload: payload})
}

// enqueue adds a job to the publish queue, dropping when full. The relay
// must never apply backpressure to the reconciler.
func (r *Relay) enqueue(job publishJob) {
	select {
	case r.queue <- job:
	default:
		r.queueDropped.Add(1)
		r.logWarn("publish queue full, dropping message", "topic", job.topic)
	}
}

// publishWorker delivers queued jobs with bounded retries.
func (r *Relay) publishWorker() {
	defer close(r.done)

	for {
		select {
		case job := <-r.queue:
			r.deliver(job)
		case <-r.stop:
			r.drainQueue()
			return
		}
	}
}

// drainQueue flushes remaining jobs during shutdown, bounded by
// drainGracePeriod.
func (r *Relay) drainQueue() {
	deadline := time.After(drainGracePeriod)
	for {
		select {
		case job := <-r.queue:
			r.deliver(job)
		case <-deadline:
			r.logWarn("shutdown drain timed out", "remaining", len(r.queue))
			return
		default:
			return
		}
	}
}

// deliver publishes one job, retrying on broker-ack failure. After the
// final attempt the message is dropped and counted; duplicate delivery on
// an earlier ambiguous ack is acceptable, silent loss mid-session is not
// worth stalling the pipeline over.
func (r *Relay) deliver(job publishJob) {
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(publishRetryDelay):
			case <-r.stop:
			}
		}
		if err = r.bus.Publish(job.topic, job.payload, r.bus.QoS(), job.retained); err == nil {
			r.published.Add(1)
			return
		}
	}

	r.publishDropped.Add(1)
	r.logError("publish failed after retries, dropping message",
		"topic", job.topic, "attempts", r.retries+1, "error", err)
}

// handleSet returns the handler for devices/+/set. The payload is a JSON
// object mapping attribute names to desired values; each pair becomes one
// device command.
func (r *Relay) handleSet(ctx context.Context) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		addr, ok := r.topics.ParseDeviceSet(topic)
		if !ok {
			return fmt.Errorf("unexpected set topic %q", topic)
		}

		// Operators type addresses in whatever form their tooling shows:
		// uppercase hex, short form. Canonicalise before the registry
		// sees them.
		if parsed, err := coordinator.ParseAddr(addr); err == nil {
			addr = coordinator.FormatAddr(parsed)
		}

		var values map[string]any
		if err := json.Unmarshal(payload, &values); err != nil {
			r.deadLetter(addr, "", nil, fmt.Errorf("malformed set payload: %w", err))
			return nil
		}
		if len(values) == 0 {
			r.deadLetter(addr, "", nil, fmt.Errorf("empty set payload"))
			return nil
		}

		for attribute, value := range values {
			cmd := coordinator.Command{Addr: addr, Attribute: attribute, Value: value}
			if err := r.control.EnqueueCommand(ctx, cmd); err != nil {
				r.deadLetter(addr, attribute, value, err)
				continue
			}
			r.commandsAccepted.Add(1)
		}
		return nil
	}
}

func (r *Relay) logDebug(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, keysAndValues...)
	}
}

func (r *Relay) logWarn(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, keysAndValues...)
	}
}

func (r *Relay) logError(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Error(msg, keysAndValues...)
	}
}
