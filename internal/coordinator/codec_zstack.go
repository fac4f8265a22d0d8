package coordinator

import (
	"bufio"
	"fmt"
	"io"
)

// Z-Stack MT framing constants.
const (
	// zstackSOF is the start-of-frame marker.
	zstackSOF = 0xFE

	// zstackSubsystem is the MT subsystem byte (cmd0) used for all
	// gateway traffic. The frame type rides in cmd1.
	zstackSubsystem = 0x61
)

// zstackCodec implements the Z-Stack MT serial framing:
//
//	SOF(0xFE) | len(1) | cmd0(1) | cmd1(1) | payload(len) | FCS(1)
//
// len counts payload bytes only. FCS is the XOR of every byte from len
// through the end of the payload. A wrong SOF byte is skipped, which
// gives natural resynchronisation after line noise or a torn frame.
type zstackCodec struct{}

func (*zstackCodec) Variant() string { return "zstack" }

// ReadFrame reads a single MT frame, scanning forward to the next SOF.
func (c *zstackCodec) ReadFrame(r *bufio.Reader) (Frame, error) {
	// Scan for SOF. Non-SOF bytes between frames are discarded.
	for {
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, fmt.Errorf("read sof: %w", err)
		}
		if b == zstackSOF {
			break
		}
	}

	header := make([]byte, 3) // len + cmd0 + cmd1
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, fmt.Errorf("read header: %w", err)
	}

	length := int(header[0])
	if length > maxFramePayload {
		// A length this large cannot be a valid MT frame. The peer is
		// almost certainly speaking a different framing variant.
		return Frame{}, fmt.Errorf("%w: declared payload %d exceeds %d",
			ErrProtocolDesync, length, maxFramePayload)
	}

	body := make([]byte, length+1) // payload + FCS
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("read body: %w", err)
	}

	payload := body[:length]
	fcs := body[length]
	if computed := zstackFCS(header, payload); computed != fcs {
		return Frame{}, fmt.Errorf("%w: fcs 0x%02X, computed 0x%02X",
			ErrChecksumMismatch, fcs, computed)
	}

	if header[1] != zstackSubsystem {
		return Frame{}, fmt.Errorf("%w: unexpected subsystem 0x%02X", ErrInvalidFrame, header[1])
	}

	return Frame{
		Type:    FrameType(header[2]),
		Payload: payload,
	}, nil
}

// EncodeFrame encodes a frame into MT wire format.
func (c *zstackCodec) EncodeFrame(f Frame) ([]byte, error) {
	if len(f.Payload) > maxFramePayload {
		return nil, fmt.Errorf("%w: payload %d exceeds %d", ErrInvalidFrame, len(f.Payload), maxFramePayload)
	}

	buf := make([]byte, 0, 5+len(f.Payload))
	buf = append(buf, zstackSOF, byte(len(f.Payload)), zstackSubsystem, byte(f.Type))
	buf = append(buf, f.Payload...)
	buf = append(buf, zstackFCS(buf[1:4], f.Payload))
	return buf, nil
}

// zstackFCS computes the XOR checksum over len+cmd0+cmd1 and the payload.
func zstackFCS(header, payload []byte) byte {
	var fcs byte
	for _, b := range header {
		fcs ^= b
	}
	for _, b := range payload {
		fcs ^= b
	}
	return fcs
}
