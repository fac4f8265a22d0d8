package device

import (
	"strings"
	"time"
)

// maxNameLength bounds human-assigned device names.
const maxNameLength = 64

// Attributes holds a device's last reported attribute values keyed by
// attribute name (e.g. "temperature", "state"). Values are the decoded
// engineering representations: bool, int64, float64 or string.
type Attributes map[string]any

// Device is the canonical record for a single Zigbee device.
//
// Addr is the immutable network address (lowercase "0x..." hex) and is the
// primary key everywhere: in the registry, in the database and in message
// bus topics. Name is a mutable human-assigned label, unique across
// devices, defaulting to the address at join time.
type Device struct {
	// Addr is the device's network address, e.g. "0x00124b0022a1f3c4".
	Addr string

	// Name is the human-assigned label. Unique. Defaults to Addr.
	Name string

	// Capabilities lists the attribute names the device announced when it
	// joined. Fixed for the lifetime of the record.
	Capabilities []string

	// Attributes is the last reported value for each attribute.
	Attributes Attributes

	// Online reports whether the device is currently considered reachable.
	Online bool

	// OfflineReason describes why Online is false ("silence", "left").
	// Empty while online.
	OfflineReason string

	// Removed marks the record as soft-deleted. Removed devices are
	// invisible to the registry but their row and journal survive.
	Removed bool

	// LastSeen is the device-reported timestamp of the newest accepted
	// event. Events older than this are stale and dropped.
	LastSeen time.Time

	// JoinedAt is when the device first joined the network.
	JoinedAt time.Time

	// UpdatedAt is when this record last changed.
	UpdatedAt time.Time
}

// DeepCopy returns a completely independent copy of the device.
// Mutating the copy never affects the original.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cp := *d

	if d.Capabilities != nil {
		cp.Capabilities = make([]string, len(d.Capabilities))
		copy(cp.Capabilities, d.Capabilities)
	}

	cp.Attributes = deepCopyAttributes(d.Attributes)

	return &cp
}

// deepCopyAttributes copies an attribute map. Nested maps and slices are
// copied recursively so decoded raw values cannot alias.
func deepCopyAttributes(src Attributes) Attributes {
	if src == nil {
		return nil
	}
	dst := make(Attributes, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

// deepCopyValue copies a single attribute value. Scalars are returned as-is;
// maps and slices are copied element by element.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, nested := range val {
			cp[k] = deepCopyValue(nested)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, nested := range val {
			cp[i] = deepCopyValue(nested)
		}
		return cp
	case []byte:
		cp := make([]byte, len(val))
		copy(cp, val)
		return cp
	default:
		return val
	}
}

// ValidateAddr checks that an address looks like a lowercase hex network
// address. The coordinator package produces these; anything else is a bug
// or garbage from the bus.
func ValidateAddr(addr string) error {
	if addr == "" {
		return ErrInvalidAddress
	}
	if !strings.HasPrefix(addr, "0x") || len(addr) < 4 {
		return ErrInvalidAddress
	}
	for _, r := range addr[2:] {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ErrInvalidAddress
		}
	}
	return nil
}

// ValidateName checks a human-assigned device name.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed != name {
		return ErrInvalidName
	}
	if len(name) > maxNameLength {
		return ErrInvalidName
	}
	return nil
}
