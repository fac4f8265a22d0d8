package coordinator

import "fmt"

// FrameType identifies the semantic type of a coordinator frame.
//
// The two framing variants put these on the wire differently (zstack
// carries them in the cmd1 byte of an MT frame, deconz in the first
// content byte of a SLIP frame) but the payload layout behind each
// type is identical.
type FrameType uint8

// Frame types, coordinator to host.
const (
	// FrameDeviceState carries an attribute report from a device.
	FrameDeviceState FrameType = 0x01

	// FrameDeviceJoined announces a device requesting to join the network.
	FrameDeviceJoined FrameType = 0x02

	// FrameDeviceLeft announces a device leaving the network.
	FrameDeviceLeft FrameType = 0x03

	// FrameHeartbeat is a periodic liveness report from a device.
	FrameHeartbeat FrameType = 0x04
)

// Frame types, host to coordinator.
const (
	// FramePermitJoin opens or closes the radio network for joining.
	// Payload: duration in seconds (1 byte, 0 = close).
	FramePermitJoin FrameType = 0x10

	// FrameDeviceCommand writes an attribute on a device.
	FrameDeviceCommand FrameType = 0x11

	// FrameVersion requests (empty payload) or carries (version string)
	// the coordinator firmware version. Used as the connect handshake.
	FrameVersion FrameType = 0x21
)

// Frame is a single decoded coordinator message.
//
// Codec implementations translate between Frame and the variant's wire
// format. Everything above the codec works in terms of Frame.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// String returns a human-readable representation of the frame.
func (f Frame) String() string {
	return fmt.Sprintf("Frame{Type:0x%02X, Payload:%X}", uint8(f.Type), f.Payload)
}

// maxFramePayload is the largest payload either variant can carry.
// zstack length fields are a single byte; deconz frames are kept to
// the same bound so oversize detection is uniform.
const maxFramePayload = 250
