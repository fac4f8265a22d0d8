package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/zigbridge/internal/coordinator"
	"github.com/nerrad567/zigbridge/internal/device"
	"github.com/nerrad567/zigbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/zigbridge/internal/joinwindow"
	"github.com/nerrad567/zigbridge/internal/reconciler"
)

// busMsg is one captured publish.
type busMsg struct {
	topic    string
	payload  []byte
	retained bool
}

// mockBus is a test implementation of Bus.
type mockBus struct {
	mu        sync.Mutex
	published []busMsg
	handlers  map[string]mqtt.MessageHandler
	failures  int // fail this many publishes before succeeding
	failAll   bool
}

func newMockBus() *mockBus {
	return &mockBus{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *mockBus) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAll {
		return mqtt.ErrPublishFailed
	}
	if b.failures > 0 {
		b.failures--
		return mqtt.ErrPublishFailed
	}
	b.published = append(b.published, busMsg{topic: topic, payload: payload, retained: retained})
	return nil
}

func (b *mockBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *mockBus) QoS() byte { return 1 }

func (b *mockBus) messages(topic string) []busMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []busMsg
	for _, m := range b.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (b *mockBus) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

// inject delivers a message to a subscribed handler.
func (b *mockBus) inject(t *testing.T, subscription, topic string, payload []byte) {
	t.Helper()
	b.mu.Lock()
	handler, ok := b.handlers[subscription]
	b.mu.Unlock()
	if !ok {
		t.Fatalf("no handler subscribed on %q", subscription)
	}
	if err := handler(topic, payload); err != nil {
		t.Fatalf("handler(%q) error = %v", topic, err)
	}
}

// mockControl is a test implementation of DeviceControl.
type mockControl struct {
	mu         sync.Mutex
	commands   []coordinator.Command
	renames    []string
	removed    []string
	enqueueErr error
	devices    []device.Device
}

func (m *mockControl) EnqueueCommand(_ context.Context, cmd coordinator.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.commands = append(m.commands, cmd)
	return nil
}

func (m *mockControl) Rename(_ context.Context, addr, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renames = append(m.renames, addr+"="+name)
	return nil
}

func (m *mockControl) RemoveDevice(_ context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, addr)
	return nil
}

func (m *mockControl) ListDevices() []device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices
}

func (m *mockControl) commandCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.commands)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func setupRelay(t *testing.T, bus *mockBus, control *mockControl) *Relay {
	t.Helper()
	join := joinwindow.New()
	r := New(bus, control, join, 2)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		r.Stop()
		join.Close()
	})
	return r
}

func TestRelayPublishesAttributeDeltas(t *testing.T) {
	bus := newMockBus()
	r := setupRelay(t, bus, &mockControl{})

	r.HandleChange(reconciler.Change{
		Kind: reconciler.ChangeAttributes,
		Addr: "0xab01",
		Attributes: device.Attributes{
			"temperature": 21.5,
			"state":       true,
		},
	})

	waitFor(t, func() bool { return bus.publishedCount() == 2 },
		"attribute deltas not published")

	temp := bus.messages("devices/0xab01/temperature")
	if len(temp) != 1 {
		t.Fatalf("temperature publishes = %d, want 1", len(temp))
	}
	if string(temp[0].payload) != "21.5" {
		t.Errorf("payload = %s, want 21.5", temp[0].payload)
	}
	if !temp[0].retained {
		t.Error("state topic not retained")
	}

	state := bus.messages("devices/0xab01/state")
	if len(state) != 1 || string(state[0].payload) != "true" {
		t.Errorf("state publish = %v, want single true", state)
	}
}

func TestRelayJoinAnnouncement(t *testing.T) {
	bus := newMockBus()
	r := setupRelay(t, bus, &mockControl{})

	r.HandleChange(reconciler.Change{
		Kind: reconciler.ChangeJoined,
		Addr: "0xab01",
		Device: &device.Device{
			Addr:         "0xab01",
			Name:         "0xab01",
			Capabilities: []string{"state", "brightness"},
			JoinedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
	})

	waitFor(t, func() bool { return bus.publishedCount() == 2 },
		"join announcement not published")

	joined := bus.messages("devices/0xab01/joined")
	if len(joined) != 1 {
		t.Fatalf("joined publishes = %d, want 1", len(joined))
	}
	var announcement joinedPayload
	if err := json.Unmarshal(joined[0].payload, &announcement); err != nil {
		t.Fatalf("unmarshalling announcement: %v", err)
	}
	if announcement.Addr != "0xab01" || len(announcement.Capabilities) != 2 {
		t.Errorf("announcement = %+v", announcement)
	}

	avail := bus.messages("devices/0xab01/availability")
	if len(avail) != 1 || !strings.Contains(string(avail[0].payload), `"online"`) {
		t.Errorf("availability = %v, want online", avail)
	}
}

func TestRelayAvailabilityTransitions(t *testing.T) {
	bus := newMockBus()
	r := setupRelay(t, bus, &mockControl{})

	r.HandleChange(reconciler.Change{Kind: reconciler.ChangeOffline, Addr: "0xab01", Reason: "silence"})
	r.HandleChange(reconciler.Change{Kind: reconciler.ChangeOnline, Addr: "0xab01"})

	waitFor(t, func() bool { return bus.publishedCount() == 2 },
		"availability transitions not published")

	msgs := bus.messages("devices/0xab01/availability")
	if len(msgs) != 2 {
		t.Fatalf("availability publishes = %d, want 2", len(msgs))
	}

	var offline availabilityPayload
	if err := json.Unmarshal(msgs[0].payload, &offline); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}
	if offline.State != "offline" || offline.Reason != "silence" {
		t.Errorf("first transition = %+v, want offline/silence", offline)
	}

	var online availabilityPayload
	if err := json.Unmarshal(msgs[1].payload, &online); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}
	if online.State != "online" || online.Reason != "" {
		t.Errorf("second transition = %+v, want online", online)
	}
}

func TestRelayRetriesThenSucceeds(t *testing.T) {
	bus := newMockBus()
	bus.failures = 2 // relay is configured with 2 retries
	r := setupRelay(t, bus, &mockControl{})

	r.HandleChange(reconciler.Change{
		Kind:       reconciler.ChangeAttributes,
		Addr:       "0xab01",
		Attributes: device.Attributes{"state": true},
	})

	waitFor(t, func() bool { return bus.publishedCount() == 1 },
		"publish did not succeed after retries")
	if r.Stats().PublishDropped != 0 {
		t.Error("successful retry counted as dropped")
	}
}

func TestRelayDropsAfterRetryBudget(t *testing.T) {
	bus := newMockBus()
	bus.failAll = true
	r := setupRelay(t, bus, &mockControl{})

	r.HandleChange(reconciler.Change{
		Kind:       reconciler.ChangeAttributes,
		Addr:       "0xab01",
		Attributes: device.Attributes{"state": true},
	})

	waitFor(t, func() bool { return r.Stats().PublishDropped == 1 },
		"exhausted publish not counted as dropped")
	if bus.publishedCount() != 0 {
		t.Error("dropped message still recorded as published")
	}
}

func TestRelaySetCommandDispatch(t *testing.T) {
	bus := newMockBus()
	control := &mockControl{}
	r := setupRelay(t, bus, control)

	bus.inject(t, "devices/+/set", "devices/0xab01/set",
		[]byte(`{"state": "on", "brightness": 128}`))

	waitFor(t, func() bool { return control.commandCount() == 2 },
		"set payload did not become commands")
	if r.Stats().CommandsAccepted != 2 {
		t.Errorf("CommandsAccepted = %d, want 2", r.Stats().CommandsAccepted)
	}

	control.mu.Lock()
	defer control.mu.Unlock()
	for _, cmd := range control.commands {
		if cmd.Addr != "0x000000000000ab01" {
			t.Errorf("command addr = %q, want 0x000000000000ab01", cmd.Addr)
		}
	}
}

func TestRelayNormalisesSetAddresses(t *testing.T) {
	bus := newMockBus()
	control := &mockControl{}
	r := setupRelay(t, bus, control)

	// Uppercase and short forms both resolve to the canonical address.
	bus.inject(t, "devices/+/set", "devices/0xAB01/set", []byte(`{"state": true}`))
	bus.inject(t, "devices/+/set", "devices/ab01/set", []byte(`{"state": false}`))

	waitFor(t, func() bool { return control.commandCount() == 2 },
		"set payloads did not become commands")
	if r.Stats().CommandsRejected != 0 {
		t.Errorf("CommandsRejected = %d, want 0", r.Stats().CommandsRejected)
	}

	control.mu.Lock()
	defer control.mu.Unlock()
	for _, cmd := range control.commands {
		if cmd.Addr != "0x000000000000ab01" {
			t.Errorf("command addr = %q, want 0x000000000000ab01", cmd.Addr)
		}
	}
}

func TestRelayDeadLettersRejectedCommands(t *testing.T) {
	bus := newMockBus()
	control := &mockControl{enqueueErr: device.ErrDeviceNotFound}
	r := setupRelay(t, bus, control)

	bus.inject(t, "devices/+/set", "devices/0xffff/set", []byte(`{"state": true}`))

	errTopic := "devices/0x000000000000ffff/error"
	waitFor(t, func() bool { return len(bus.messages(errTopic)) == 1 },
		"rejected command not dead-lettered")

	var letter deadLetterPayload
	if err := json.Unmarshal(bus.messages(errTopic)[0].payload, &letter); err != nil {
		t.Fatalf("unmarshalling dead letter: %v", err)
	}
	if letter.Attribute != "state" || letter.Error == "" {
		t.Errorf("dead letter = %+v", letter)
	}
	if letter.ID == "" {
		t.Error("dead letter missing correlation id")
	}
	if r.Stats().CommandsRejected != 1 {
		t.Errorf("CommandsRejected = %d, want 1", r.Stats().CommandsRejected)
	}
}

func TestRelayDeadLettersMalformedSetPayload(t *testing.T) {
	bus := newMockBus()
	r := setupRelay(t, bus, &mockControl{})

	bus.inject(t, "devices/+/set", "devices/0xab01/set", []byte(`not json`))

	waitFor(t, func() bool { return len(bus.messages("devices/0x000000000000ab01/error")) == 1 },
		"malformed payload not dead-lettered")
	if r.Stats().CommandsAccepted != 0 {
		t.Error("malformed payload produced accepted commands")
	}
}

func TestRelayCommandFailureDeadLetter(t *testing.T) {
	bus := newMockBus()
	r := setupRelay(t, bus, &mockControl{})

	r.HandleCommandFailure(
		coordinator.Command{Addr: "0xab01", Attribute: "state", Value: true},
		errors.New("coordinator: not connected"),
	)

	waitFor(t, func() bool { return len(bus.messages("devices/0xab01/error")) == 1 },
		"delivery failure not dead-lettered")
}

func TestRelayControlSurface(t *testing.T) {
	bus := newMockBus()
	control := &mockControl{
		devices: []device.Device{
			{Addr: "0xaa01", Name: "hall", Online: true},
			{Addr: "0xbb02", Name: "porch", Online: false, OfflineReason: "silence"},
		},
	}
	_ = setupRelay(t, bus, control)

	lastResponse := func() controlResponse {
		t.Helper()
		msgs := bus.messages("gateway/response")
		if len(msgs) == 0 {
			t.Fatal("no response published")
		}
		var resp controlResponse
		if err := json.Unmarshal(msgs[len(msgs)-1].payload, &resp); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}
		return resp
	}

	t.Run("open and close join", func(t *testing.T) {
		bus.inject(t, "gateway/request", "gateway/request",
			[]byte(`{"request_id":"r1","action":"open_join","duration":60}`))
		waitFor(t, func() bool { return len(bus.messages("gateway/response")) == 1 },
			"no open_join response")

		resp := lastResponse()
		if resp.RequestID != "r1" || !resp.OK {
			t.Fatalf("response = %+v", resp)
		}
		if resp.Join == nil || !resp.Join.Open || resp.Join.RemainingSeconds == 0 {
			t.Errorf("join status = %+v, want open with remaining time", resp.Join)
		}

		bus.inject(t, "gateway/request", "gateway/request",
			[]byte(`{"request_id":"r2","action":"close_join"}`))
		waitFor(t, func() bool { return len(bus.messages("gateway/response")) == 2 },
			"no close_join response")
		if resp := lastResponse(); !resp.OK || resp.Join == nil || resp.Join.Open {
			t.Errorf("close_join response = %+v", resp)
		}
	})

	t.Run("rename", func(t *testing.T) {
		// Uppercase short-form address canonicalises before dispatch.
		bus.inject(t, "gateway/request", "gateway/request",
			[]byte(`{"request_id":"r3","action":"rename","addr":"0xAA01","name":"kitchen"}`))
		waitFor(t, func() bool { return len(bus.messages("gateway/response")) == 3 },
			"no rename response")
		if resp := lastResponse(); resp.RequestID != "r3" || !resp.OK {
			t.Errorf("rename response = %+v", resp)
		}

		control.mu.Lock()
		defer control.mu.Unlock()
		if len(control.renames) != 1 || control.renames[0] != "0x000000000000aa01=kitchen" {
			t.Errorf("renames = %v", control.renames)
		}
	})

	t.Run("list devices", func(t *testing.T) {
		bus.inject(t, "gateway/request", "gateway/request",
			[]byte(`{"request_id":"r4","action":"list_devices"}`))
		waitFor(t, func() bool { return len(bus.messages("gateway/response")) == 4 },
			"no list_devices response")

		resp := lastResponse()
		if !resp.OK || len(resp.Devices) != 2 {
			t.Fatalf("list response = %+v", resp)
		}
		if resp.Devices[1].OfflineReason != "silence" {
			t.Errorf("offline reason = %q, want silence", resp.Devices[1].OfflineReason)
		}
	})

	t.Run("remove device", func(t *testing.T) {
		bus.inject(t, "gateway/request", "gateway/request",
			[]byte(`{"request_id":"r5","action":"remove_device","addr":"0xbb02"}`))
		waitFor(t, func() bool { return len(bus.messages("gateway/response")) == 5 },
			"no remove_device response")
		if resp := lastResponse(); !resp.OK {
			t.Errorf("remove response = %+v", resp)
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		bus.inject(t, "gateway/request", "gateway/request",
			[]byte(`{"request_id":"r6","action":"reboot"}`))
		waitFor(t, func() bool { return len(bus.messages("gateway/response")) == 6 },
			"no error response")
		resp := lastResponse()
		if resp.OK || resp.Error == "" || resp.RequestID != "r6" {
			t.Errorf("unknown action response = %+v", resp)
		}
	})
}

func TestRelayPublishesJoinStatus(t *testing.T) {
	bus := newMockBus()
	r := setupRelay(t, bus, &mockControl{})

	r.PublishJoinStatus(joinwindow.Status{
		Open:      true,
		Remaining: 30 * time.Second,
		Allowlist: []string{"0xab01"},
	})

	waitFor(t, func() bool { return len(bus.messages("gateway/join")) == 1 },
		"join status not published")

	msg := bus.messages("gateway/join")[0]
	if !msg.retained {
		t.Error("join status not retained")
	}
	var status joinStatusPayload
	if err := json.Unmarshal(msg.payload, &status); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}
	if !status.Open || status.RemainingSeconds != 30 || len(status.Allowlist) != 1 {
		t.Errorf("status = %+v", status)
	}
}
