package coordinator

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

// buildStateReport assembles a state report payload for tests.
func buildStateReport(addr uint64, lqi byte, ts time.Time, attrs []byte, count byte) []byte {
	p := binary.BigEndian.AppendUint64(nil, addr)
	p = append(p, lqi)
	p = binary.BigEndian.AppendUint64(p, uint64(ts.UnixMilli()))
	p = append(p, count)
	return append(p, attrs...)
}

func TestParseEventStateReport(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	attrs := []byte{
		0x04, 0x02, TypeInt16, 0x08, 0x66, // temperature = 2150 → 21.50
		0x00, 0x01, TypeUint8, 0x55, // battery = 85
		0x00, 0x06, TypeBool, 0x01, // state = true
	}
	payload := buildStateReport(0x00124B0022A1F3C4, 0x54, ts, attrs, 3)

	event, err := ParseEvent(Frame{Type: FrameDeviceState, Payload: payload})
	if err != nil {
		t.Fatalf("ParseEvent() unexpected error: %v", err)
	}

	if event.Kind != EventStateReport {
		t.Errorf("Kind = %v, want EventStateReport", event.Kind)
	}
	if event.Addr != "0x00124b0022a1f3c4" {
		t.Errorf("Addr = %q, want 0x00124b0022a1f3c4", event.Addr)
	}
	if event.LQI != 0x54 {
		t.Errorf("LQI = %d, want %d", event.LQI, 0x54)
	}
	if !event.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", event.Timestamp, ts)
	}

	if temp, ok := event.Attributes["temperature"].(float64); !ok || math.Abs(temp-21.5) > 1e-9 {
		t.Errorf("temperature = %v, want 21.5", event.Attributes["temperature"])
	}
	if battery, ok := event.Attributes["battery"].(int64); !ok || battery != 85 {
		t.Errorf("battery = %v, want 85", event.Attributes["battery"])
	}
	if state, ok := event.Attributes["state"].(bool); !ok || !state {
		t.Errorf("state = %v, want true", event.Attributes["state"])
	}
}

func TestParseEventPreservesUnknownAttributes(t *testing.T) {
	ts := time.Now().Truncate(time.Millisecond).UTC()
	attrs := []byte{0xBE, 0xEF, TypeUint16, 0x01, 0x02}
	payload := buildStateReport(0x01, 0x00, ts, attrs, 1)

	event, err := ParseEvent(Frame{Type: FrameDeviceState, Payload: payload})
	if err != nil {
		t.Fatalf("ParseEvent() unexpected error: %v", err)
	}

	value, ok := event.Attributes["attr_0xBEEF"]
	if !ok {
		t.Fatalf("unknown attribute dropped; attributes: %v", event.Attributes)
	}
	if raw, ok := value.(int64); !ok || raw != 0x0102 {
		t.Errorf("attr_0xBEEF = %v, want 258", value)
	}
}

func TestParseEventJoinRequest(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	p := binary.BigEndian.AppendUint64(nil, 0xDEAD)
	p = binary.BigEndian.AppendUint64(p, uint64(ts.UnixMilli()))
	p = append(p, 2)
	p = binary.BigEndian.AppendUint16(p, 0x0006) // state
	p = binary.BigEndian.AppendUint16(p, 0x0008) // brightness

	event, err := ParseEvent(Frame{Type: FrameDeviceJoined, Payload: p})
	if err != nil {
		t.Fatalf("ParseEvent() unexpected error: %v", err)
	}

	if event.Kind != EventJoinRequest {
		t.Errorf("Kind = %v, want EventJoinRequest", event.Kind)
	}
	if len(event.Capabilities) != 2 {
		t.Fatalf("Capabilities = %v, want 2 entries", event.Capabilities)
	}
	if event.Capabilities[0] != "state" || event.Capabilities[1] != "brightness" {
		t.Errorf("Capabilities = %v, want [state brightness]", event.Capabilities)
	}
}

func TestParseEventLeaveAndHeartbeat(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	leave := binary.BigEndian.AppendUint64(nil, 0x0BEE)
	leave = binary.BigEndian.AppendUint64(leave, uint64(ts.UnixMilli()))

	event, err := ParseEvent(Frame{Type: FrameDeviceLeft, Payload: leave})
	if err != nil {
		t.Fatalf("ParseEvent(leave) unexpected error: %v", err)
	}
	if event.Kind != EventLeave || event.Addr != "0x0000000000000bee" {
		t.Errorf("leave event = %+v", event)
	}

	hb := binary.BigEndian.AppendUint64(nil, 0x0BEE)
	hb = append(hb, 0x80)
	hb = binary.BigEndian.AppendUint64(hb, uint64(ts.UnixMilli()))

	event, err = ParseEvent(Frame{Type: FrameHeartbeat, Payload: hb})
	if err != nil {
		t.Fatalf("ParseEvent(heartbeat) unexpected error: %v", err)
	}
	if event.Kind != EventHeartbeat || event.LQI != 0x80 {
		t.Errorf("heartbeat event = %+v", event)
	}
}

func TestParseEventTruncated(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{name: "empty state report", frame: Frame{Type: FrameDeviceState}},
		{name: "state report truncated attribute", frame: Frame{
			Type:    FrameDeviceState,
			Payload: buildStateReport(0x01, 0, time.Now(), []byte{0x04, 0x02, TypeInt16, 0x08}, 1),
		}},
		{name: "state report count exceeds data", frame: Frame{
			Type:    FrameDeviceState,
			Payload: buildStateReport(0x01, 0, time.Now(), nil, 3),
		}},
		{name: "short leave", frame: Frame{Type: FrameDeviceLeft, Payload: []byte{0x01}}},
		{name: "short heartbeat", frame: Frame{Type: FrameHeartbeat, Payload: []byte{0x01, 0x02}}},
		{name: "unexpected frame type", frame: Frame{Type: FramePermitJoin, Payload: []byte{0x00}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEvent(tt.frame); !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("ParseEvent() error = %v, want ErrInvalidFrame", err)
			}
		})
	}
}

func TestAddrRoundTrip(t *testing.T) {
	formatted := FormatAddr(0x00124B0022A1F3C4)
	if formatted != "0x00124b0022a1f3c4" {
		t.Errorf("FormatAddr() = %q", formatted)
	}

	parsed, err := ParseAddr(formatted)
	if err != nil {
		t.Fatalf("ParseAddr() unexpected error: %v", err)
	}
	if parsed != 0x00124B0022A1F3C4 {
		t.Errorf("ParseAddr() = 0x%X", parsed)
	}

	if _, err := ParseAddr("not-an-address"); err == nil {
		t.Error("ParseAddr() expected error for garbage input")
	}
	if _, err := ParseAddr("0x"); err == nil {
		t.Error("ParseAddr() expected error for empty hex")
	}
}

func TestEncodeCommandFrame(t *testing.T) {
	frame, err := encodeCommandFrame(Command{
		Addr:      "0x00124b0022a1f3c4",
		Attribute: "brightness",
		Value:     float64(128),
	})
	if err != nil {
		t.Fatalf("encodeCommandFrame() unexpected error: %v", err)
	}

	if frame.Type != FrameDeviceCommand {
		t.Errorf("Type = 0x%02X, want FrameDeviceCommand", uint8(frame.Type))
	}

	// addr(8) + attrID(2) + type(1) + value(1)
	if len(frame.Payload) != 12 {
		t.Fatalf("Payload length = %d, want 12", len(frame.Payload))
	}
	if got := binary.BigEndian.Uint16(frame.Payload[8:10]); got != 0x0008 {
		t.Errorf("attrID = 0x%04X, want 0x0008", got)
	}
	if frame.Payload[10] != TypeUint8 || frame.Payload[11] != 128 {
		t.Errorf("value bytes = %X", frame.Payload[10:])
	}
}

func TestEncodeCommandFrameRejectsUnknownAttribute(t *testing.T) {
	_, err := encodeCommandFrame(Command{
		Addr:      "0x01",
		Attribute: "warp_factor",
		Value:     9.0,
	})
	if !errors.Is(err, ErrUnknownAttribute) {
		t.Errorf("encodeCommandFrame() error = %v, want ErrUnknownAttribute", err)
	}
}

func TestEncodePermitJoinFrame(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     byte
	}{
		{name: "close", duration: 0, want: 0},
		{name: "one minute", duration: time.Minute, want: 60},
		{name: "clamped to radio max", duration: time.Hour, want: 254},
		{name: "negative clamped to zero", duration: -time.Second, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := encodePermitJoinFrame(tt.duration)
			if frame.Type != FramePermitJoin {
				t.Errorf("Type = 0x%02X, want FramePermitJoin", uint8(frame.Type))
			}
			if len(frame.Payload) != 1 || frame.Payload[0] != tt.want {
				t.Errorf("Payload = %X, want [%02X]", frame.Payload, tt.want)
			}
		})
	}
}
