package coordinator

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// SLIP framing constants (RFC 1055, as used by the deCONZ serial protocol).
const (
	slipEnd    = 0xC0
	slipEsc    = 0xDB
	slipEscEnd = 0xDC
	slipEscEsc = 0xDD

	// deconzHeaderSize is cmd(1) + seq(1) + reserved(1) + frameLen(2).
	deconzHeaderSize = 5

	// deconzCRCSize is the trailing two's-complement checksum.
	deconzCRCSize = 2

	// deconzMaxFrame bounds the unescaped frame content. Anything larger
	// than header + payload + CRC cannot be a valid frame.
	deconzMaxFrame = deconzHeaderSize + maxFramePayload + deconzCRCSize
)

// deconzCodec implements SLIP-delimited framing as used by deCONZ
// firmware. Each frame is terminated by 0xC0 with 0xDB escaping for
// content bytes. The unescaped content is:
//
//	cmd(1) | seq(1) | reserved(1) | frameLen(2 LE) | payload | crc(2 LE)
//
// frameLen covers cmd through payload (everything except the CRC). The
// CRC is the two's complement of the byte sum over the same range.
// Resynchronisation after corruption is inherent: the reader skips to
// the next 0xC0 delimiter.
type deconzCodec struct {
	// seq numbers outgoing frames. The coordinator echoes it in
	// responses; we only use it for log correlation.
	seq atomic.Uint32
}

func (*deconzCodec) Variant() string { return "deconz" }

// ReadFrame reads bytes up to the next SLIP delimiter and decodes the frame.
func (c *deconzCodec) ReadFrame(r *bufio.Reader) (Frame, error) {
	content, err := readSLIP(r)
	if err != nil {
		return Frame{}, err
	}

	if len(content) < deconzHeaderSize+deconzCRCSize {
		return Frame{}, fmt.Errorf("%w: frame too short (%d bytes)", ErrInvalidFrame, len(content))
	}

	frameLen := int(binary.LittleEndian.Uint16(content[3:5]))
	if frameLen != len(content)-deconzCRCSize {
		return Frame{}, fmt.Errorf("%w: declared length %d, content %d",
			ErrInvalidFrame, frameLen, len(content)-deconzCRCSize)
	}

	body := content[:len(content)-deconzCRCSize]
	crc := binary.LittleEndian.Uint16(content[len(content)-deconzCRCSize:])
	if computed := deconzCRC(body); computed != crc {
		return Frame{}, fmt.Errorf("%w: crc 0x%04X, computed 0x%04X",
			ErrChecksumMismatch, crc, computed)
	}

	return Frame{
		Type:    FrameType(content[0]),
		Payload: append([]byte(nil), body[deconzHeaderSize:]...),
	}, nil
}

// readSLIP accumulates unescaped bytes until the next END delimiter.
// Empty frames (back-to-back delimiters) are skipped.
func readSLIP(r *bufio.Reader) ([]byte, error) {
	content := make([]byte, 0, 64)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read slip: %w", err)
		}

		switch b {
		case slipEnd:
			if len(content) == 0 {
				continue // Delimiter between frames, keep scanning
			}
			return content, nil
		case slipEsc:
			next, err := r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("read slip escape: %w", err)
			}
			switch next {
			case slipEscEnd:
				content = append(content, slipEnd)
			case slipEscEsc:
				content = append(content, slipEsc)
			default:
				return nil, fmt.Errorf("%w: invalid escape 0x%02X", ErrInvalidFrame, next)
			}
		default:
			content = append(content, b)
		}

		// A frame that never terminates means the peer is not speaking
		// SLIP at all (wrong variant configured).
		if len(content) > deconzMaxFrame {
			return nil, fmt.Errorf("%w: no delimiter within %d bytes",
				ErrProtocolDesync, deconzMaxFrame)
		}
	}
}

// EncodeFrame encodes a frame into SLIP wire format.
func (c *deconzCodec) EncodeFrame(f Frame) ([]byte, error) {
	if len(f.Payload) > maxFramePayload {
		return nil, fmt.Errorf("%w: payload %d exceeds %d", ErrInvalidFrame, len(f.Payload), maxFramePayload)
	}

	seq := byte(c.seq.Add(1))

	body := make([]byte, 0, deconzHeaderSize+len(f.Payload))
	body = append(body, byte(f.Type), seq, 0x00)
	body = binary.LittleEndian.AppendUint16(body, uint16(deconzHeaderSize+len(f.Payload)))
	body = append(body, f.Payload...)

	content := binary.LittleEndian.AppendUint16(body, deconzCRC(body))

	// SLIP-escape and delimit
	out := make([]byte, 0, len(content)+4)
	out = append(out, slipEnd)
	for _, b := range content {
		switch b {
		case slipEnd:
			out = append(out, slipEsc, slipEscEnd)
		case slipEsc:
			out = append(out, slipEsc, slipEscEsc)
		default:
			out = append(out, b)
		}
	}
	out = append(out, slipEnd)
	return out, nil
}

// deconzCRC computes the two's-complement byte-sum checksum.
func deconzCRC(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return ^sum + 1
}
