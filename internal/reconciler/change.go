package reconciler

import "github.com/nerrad567/zigbridge/internal/device"

// ChangeKind classifies a reconciled change.
type ChangeKind int

const (
	// ChangeAttributes is an attribute delta on a known device.
	ChangeAttributes ChangeKind = iota + 1

	// ChangeJoined is a newly created device record.
	ChangeJoined

	// ChangeOnline is an offline device flipping back online.
	ChangeOnline

	// ChangeOffline is a device going offline (silence sweep or leave).
	ChangeOffline
)

// String returns a human-readable change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAttributes:
		return "attributes"
	case ChangeJoined:
		return "joined"
	case ChangeOnline:
		return "online"
	case ChangeOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Change is one reconciled state change, emitted after the registry write
// has succeeded. Only changed attributes appear in Attributes; values the
// device re-reported unchanged are filtered out before this point.
type Change struct {
	Kind ChangeKind
	Addr string

	// Attributes holds the delta for ChangeAttributes, and the initial
	// values for ChangeJoined.
	Attributes device.Attributes

	// Device is a snapshot taken after the write. Set for ChangeJoined.
	Device *device.Device

	// Reason is set for ChangeOffline ("silence", "left").
	Reason string
}
