package coordinator

import (
	"bufio"
	"bytes"
	"errors"
	"testing"
)

func TestNewCodec(t *testing.T) {
	tests := []struct {
		variant string
		wantErr bool
	}{
		{variant: "zstack"},
		{variant: "deconz"},
		{variant: "ezsp", wantErr: true},
		{variant: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.variant, func(t *testing.T) {
			codec, err := NewCodec(tt.variant)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownVariant) {
					t.Errorf("NewCodec(%q) error = %v, want ErrUnknownVariant", tt.variant, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewCodec(%q) unexpected error: %v", tt.variant, err)
			}
			if codec.Variant() != tt.variant {
				t.Errorf("Variant() = %q, want %q", codec.Variant(), tt.variant)
			}
		})
	}
}

func TestZStackRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{
			name:  "permit join",
			frame: Frame{Type: FramePermitJoin, Payload: []byte{0x3C}},
		},
		{
			name:  "empty payload",
			frame: Frame{Type: FrameVersion},
		},
		{
			name: "state report",
			frame: Frame{Type: FrameDeviceState, Payload: []byte{
				0x00, 0x12, 0x4B, 0x00, 0x22, 0xA1, 0xF3, 0xC4,
				0x54,
				0x00, 0x00, 0x01, 0x8F, 0x00, 0x00, 0x00, 0x00,
				0x01,
				0x04, 0x02, TypeInt16, 0x08, 0x66,
			}},
		},
	}

	codec := &zstackCodec{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := codec.EncodeFrame(tt.frame)
			if err != nil {
				t.Fatalf("EncodeFrame() unexpected error: %v", err)
			}
			if wire[0] != zstackSOF {
				t.Errorf("wire[0] = 0x%02X, want SOF 0x%02X", wire[0], zstackSOF)
			}

			got, err := codec.ReadFrame(bufio.NewReader(bytes.NewReader(wire)))
			if err != nil {
				t.Fatalf("ReadFrame() unexpected error: %v", err)
			}
			if got.Type != tt.frame.Type {
				t.Errorf("Type = 0x%02X, want 0x%02X", uint8(got.Type), uint8(tt.frame.Type))
			}
			if !bytes.Equal(got.Payload, tt.frame.Payload) {
				t.Errorf("Payload = %X, want %X", got.Payload, tt.frame.Payload)
			}
		})
	}
}

func TestZStackScansForSOF(t *testing.T) {
	codec := &zstackCodec{}
	wire, err := codec.EncodeFrame(Frame{Type: FrameHeartbeat, Payload: []byte{0x01}})
	if err != nil {
		t.Fatalf("EncodeFrame() unexpected error: %v", err)
	}

	// Line noise before the frame must be skipped.
	noisy := append([]byte{0x00, 0x42, 0x99}, wire...)
	got, err := codec.ReadFrame(bufio.NewReader(bytes.NewReader(noisy)))
	if err != nil {
		t.Fatalf("ReadFrame() unexpected error: %v", err)
	}
	if got.Type != FrameHeartbeat {
		t.Errorf("Type = 0x%02X, want FrameHeartbeat", uint8(got.Type))
	}
}

func TestZStackChecksumMismatch(t *testing.T) {
	codec := &zstackCodec{}
	wire, err := codec.EncodeFrame(Frame{Type: FramePermitJoin, Payload: []byte{0x3C}})
	if err != nil {
		t.Fatalf("EncodeFrame() unexpected error: %v", err)
	}

	wire[len(wire)-1] ^= 0xFF // Corrupt FCS

	_, err = codec.ReadFrame(bufio.NewReader(bytes.NewReader(wire)))
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("ReadFrame() error = %v, want ErrChecksumMismatch", err)
	}
}

func TestZStackOversizedLengthIsDesync(t *testing.T) {
	codec := &zstackCodec{}
	// SOF followed by a length no MT frame can declare.
	wire := []byte{zstackSOF, 0xFF, zstackSubsystem, byte(FrameVersion)}

	_, err := codec.ReadFrame(bufio.NewReader(bytes.NewReader(wire)))
	if !errors.Is(err, ErrProtocolDesync) {
		t.Errorf("ReadFrame() error = %v, want ErrProtocolDesync", err)
	}
}

func TestDeconzRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{
			name:  "permit join",
			frame: Frame{Type: FramePermitJoin, Payload: []byte{0x3C}},
		},
		{
			name:  "empty payload",
			frame: Frame{Type: FrameVersion},
		},
		{
			name: "payload containing SLIP control bytes",
			// 0xC0 and 0xDB in the payload must survive escaping.
			frame: Frame{Type: FrameDeviceState, Payload: []byte{0xC0, 0xDB, 0x01, 0xC0}},
		},
	}

	codec := &deconzCodec{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := codec.EncodeFrame(tt.frame)
			if err != nil {
				t.Fatalf("EncodeFrame() unexpected error: %v", err)
			}

			got, err := codec.ReadFrame(bufio.NewReader(bytes.NewReader(wire)))
			if err != nil {
				t.Fatalf("ReadFrame() unexpected error: %v", err)
			}
			if got.Type != tt.frame.Type {
				t.Errorf("Type = 0x%02X, want 0x%02X", uint8(got.Type), uint8(tt.frame.Type))
			}
			if !bytes.Equal(got.Payload, tt.frame.Payload) {
				t.Errorf("Payload = %X, want %X", got.Payload, tt.frame.Payload)
			}
		})
	}
}

func TestDeconzSkipsEmptyFrames(t *testing.T) {
	codec := &deconzCodec{}
	wire, err := codec.EncodeFrame(Frame{Type: FrameHeartbeat, Payload: []byte{0x05}})
	if err != nil {
		t.Fatalf("EncodeFrame() unexpected error: %v", err)
	}

	// Back-to-back delimiters between frames are legal SLIP idle bytes.
	noisy := append([]byte{slipEnd, slipEnd, slipEnd}, wire...)
	got, err := codec.ReadFrame(bufio.NewReader(bytes.NewReader(noisy)))
	if err != nil {
		t.Fatalf("ReadFrame() unexpected error: %v", err)
	}
	if got.Type != FrameHeartbeat {
		t.Errorf("Type = 0x%02X, want FrameHeartbeat", uint8(got.Type))
	}
}

func TestDeconzChecksumMismatch(t *testing.T) {
	codec := &deconzCodec{}
	wire, err := codec.EncodeFrame(Frame{Type: FramePermitJoin, Payload: []byte{0x3C}})
	if err != nil {
		t.Fatalf("EncodeFrame() unexpected error: %v", err)
	}

	// Flip a CRC byte (second to last content byte, before the closing delimiter).
	wire[len(wire)-2] ^= 0x01

	_, err = codec.ReadFrame(bufio.NewReader(bytes.NewReader(wire)))
	if err == nil {
		t.Fatal("ReadFrame() expected error, got nil")
	}
	if !errors.Is(err, ErrChecksumMismatch) && !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("ReadFrame() error = %v, want checksum or frame error", err)
	}
}

func TestDeconzUndelimitedStreamIsDesync(t *testing.T) {
	codec := &deconzCodec{}
	// A long run of non-delimiter bytes: the peer is not speaking SLIP.
	wire := bytes.Repeat([]byte{0x42}, deconzMaxFrame+16)

	_, err := codec.ReadFrame(bufio.NewReader(bytes.NewReader(wire)))
	if !errors.Is(err, ErrProtocolDesync) {
		t.Errorf("ReadFrame() error = %v, want ErrProtocolDesync", err)
	}
}

func TestDeconzSequenceIncrements(t *testing.T) {
	codec := &deconzCodec{}

	first, err := codec.EncodeFrame(Frame{Type: FrameVersion})
	if err != nil {
		t.Fatalf("EncodeFrame() unexpected error: %v", err)
	}
	second, err := codec.EncodeFrame(Frame{Type: FrameVersion})
	if err != nil {
		t.Fatalf("EncodeFrame() unexpected error: %v", err)
	}

	// Byte layout: END, cmd, seq, ...
	if first[2] == second[2] {
		t.Errorf("sequence did not increment: both frames carry seq 0x%02X", first[2])
	}
}
