package coordinator

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventKind classifies a coordinator event for the reconciler.
type EventKind uint8

const (
	// EventStateReport carries attribute values reported by a device.
	EventStateReport EventKind = iota + 1

	// EventJoinRequest announces a device asking to join the network.
	EventJoinRequest

	// EventLeave announces a device that left the network.
	EventLeave

	// EventHeartbeat is a periodic liveness report with no attribute data.
	EventHeartbeat
)

// String returns the event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventStateReport:
		return "state_report"
	case EventJoinRequest:
		return "join_request"
	case EventLeave:
		return "leave"
	case EventHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Event is a decoded coordinator event, ready for reconciliation.
//
// Timestamp is the device-reported time of the observation, not the
// receive time. The reconciler compares it against the registry's
// last-seen time to drop stale reports delivered out of order.
type Event struct {
	Kind EventKind

	// Addr is the device network address ("0x%016x").
	Addr string

	// Attributes holds decoded attribute values (state reports only).
	Attributes map[string]any

	// Capabilities lists the attribute names a joining device supports
	// (join requests only).
	Capabilities []string

	// LQI is the radio link quality of the report (0-255), when carried.
	LQI int

	// Timestamp is the device-reported observation time.
	Timestamp time.Time
}

// Fixed payload section sizes.
const (
	addrSize      = 8
	timestampSize = 8
)

// FormatAddr renders a 64-bit device address in the canonical form
// used in topics, the registry, and logs.
func FormatAddr(addr uint64) string {
	return fmt.Sprintf("0x%016x", addr)
}

// ParseAddr parses a canonical device address string.
func ParseAddr(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(s), "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty address", ErrInvalidFrame)
	}
	addr, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: address %q: %w", ErrInvalidFrame, s, err)
	}
	return addr, nil
}

// ParseEvent decodes a coordinator-to-host frame into an Event.
//
// Payload layouts (all multi-byte integers big-endian):
//
//	state report:  addr(8) lqi(1) ts(8, unix ms) count(1) [attrID(2) type(1) value]...
//	join request:  addr(8) ts(8) count(1) [attrID(2)]...
//	leave:         addr(8) ts(8)
//	heartbeat:     addr(8) lqi(1) ts(8)
//
// Returns ErrInvalidFrame for truncated or unrecognised payloads; the
// caller logs and skips these without dropping the connection.
func ParseEvent(f Frame) (Event, error) {
	switch f.Type {
	case FrameDeviceState:
		return parseStateReport(f.Payload)
	case FrameDeviceJoined:
		return parseJoinRequest(f.Payload)
	case FrameDeviceLeft:
		return parseLeave(f.Payload)
	case FrameHeartbeat:
		return parseHeartbeat(f.Payload)
	default:
		return Event{}, fmt.Errorf("%w: unexpected frame type 0x%02X", ErrInvalidFrame, uint8(f.Type))
	}
}

func parseStateReport(p []byte) (Event, error) {
	const header = addrSize + 1 + timestampSize + 1 // addr + lqi + ts + count
	if len(p) < header {
		return Event{}, fmt.Errorf("%w: state report too short (%d bytes)", ErrInvalidFrame, len(p))
	}

	addr := binary.BigEndian.Uint64(p[0:8])
	lqi := int(p[8])
	ts := parseTimestamp(p[9:17])
	count := int(p[17])

	attrs := make(map[string]any, count)
	rest := p[header:]
	for i := 0; i < count; i++ {
		if len(rest) < 3 {
			return Event{}, fmt.Errorf("%w: truncated attribute %d", ErrInvalidFrame, i)
		}
		attrID := binary.BigEndian.Uint16(rest[0:2])
		dataType := rest[2]
		size := valueSize(dataType)
		if size == 0 || len(rest) < 3+size {
			return Event{}, fmt.Errorf("%w: truncated attribute 0x%04X", ErrInvalidFrame, attrID)
		}

		name, value, err := DecodeAttribute(attrID, dataType, rest[3:3+size])
		if err != nil {
			return Event{}, err
		}
		attrs[name] = value
		rest = rest[3+size:]
	}

	return Event{
		Kind:       EventStateReport,
		Addr:       FormatAddr(addr),
		Attributes: attrs,
		LQI:        lqi,
		Timestamp:  ts,
	}, nil
}

func parseJoinRequest(p []byte) (Event, error) {
	const header = addrSize + timestampSize + 1
	if len(p) < header {
		return Event{}, fmt.Errorf("%w: join request too short (%d bytes)", ErrInvalidFrame, len(p))
	}

	addr := binary.BigEndian.Uint64(p[0:8])
	ts := parseTimestamp(p[8:16])
	count := int(p[16])

	if len(p) < header+count*2 {
		return Event{}, fmt.Errorf("%w: truncated capability list", ErrInvalidFrame)
	}

	caps := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := binary.BigEndian.Uint16(p[header+i*2 : header+i*2+2])
		if spec, ok := LookupAttribute(id); ok {
			caps = append(caps, spec.Name)
		} else {
			caps = append(caps, fmt.Sprintf("attr_0x%04X", id))
		}
	}

	return Event{
		Kind:         EventJoinRequest,
		Addr:         FormatAddr(addr),
		Capabilities: caps,
		Timestamp:    ts,
	}, nil
}

func parseLeave(p []byte) (Event, error) {
	if len(p) < addrSize+timestampSize {
		return Event{}, fmt.Errorf("%w: leave too short (%d bytes)", ErrInvalidFrame, len(p))
	}
	return Event{
		Kind:      EventLeave,
		Addr:      FormatAddr(binary.BigEndian.Uint64(p[0:8])),
		Timestamp: parseTimestamp(p[8:16]),
	}, nil
}

func parseHeartbeat(p []byte) (Event, error) {
	if len(p) < addrSize+1+timestampSize {
		return Event{}, fmt.Errorf("%w: heartbeat too short (%d bytes)", ErrInvalidFrame, len(p))
	}
	return Event{
		Kind:      EventHeartbeat,
		Addr:      FormatAddr(binary.BigEndian.Uint64(p[0:8])),
		LQI:       int(p[8]),
		Timestamp: parseTimestamp(p[9:17]),
	}, nil
}

// parseTimestamp converts an 8-byte unix-millisecond field.
func parseTimestamp(p []byte) time.Time {
	ms := binary.BigEndian.Uint64(p)
	return time.UnixMilli(int64(ms)).UTC() //nolint:gosec // timestamps fit in int64 until year 292M
}

// Command is an attribute write bound for a device.
type Command struct {
	// Addr is the target device address ("0x%016x").
	Addr string

	// Attribute is the catalogue name of the attribute to write.
	Attribute string

	// Value is the desired value (JSON-decoded form).
	Value any
}

// encodeCommandFrame builds the FrameDeviceCommand wire payload:
//
//	addr(8) attrID(2) type(1) value
func encodeCommandFrame(cmd Command) (Frame, error) {
	addr, err := ParseAddr(cmd.Addr)
	if err != nil {
		return Frame{}, err
	}

	spec, data, err := EncodeAttribute(cmd.Attribute, cmd.Value)
	if err != nil {
		return Frame{}, err
	}

	payload := make([]byte, 0, addrSize+3+len(data))
	payload = binary.BigEndian.AppendUint64(payload, addr)
	payload = binary.BigEndian.AppendUint16(payload, spec.ID)
	payload = append(payload, spec.DataType)
	payload = append(payload, data...)

	return Frame{Type: FrameDeviceCommand, Payload: payload}, nil
}

// encodePermitJoinFrame builds the FramePermitJoin wire payload.
// Duration is clamped to the single-byte range the radio accepts;
// zero closes the network.
func encodePermitJoinFrame(duration time.Duration) Frame {
	seconds := int64(duration / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	if seconds > 254 {
		seconds = 254
	}
	return Frame{Type: FramePermitJoin, Payload: []byte{byte(seconds)}}
}
