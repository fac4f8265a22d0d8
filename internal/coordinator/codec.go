package coordinator

import (
	"bufio"
	"fmt"

	"github.com/nerrad567/zigbridge/internal/infrastructure/config"
)

// Codec translates between Frame and a coordinator's wire format.
//
// The variant is chosen explicitly in configuration and never guessed
// from the byte stream: a mismatched variant is the most common
// operator error, and guessing would turn it into silent corruption
// instead of a loud handshake failure.
//
// Implementations are used by a single receive loop at a time and need
// not be safe for concurrent reads. EncodeFrame may be called
// concurrently with ReadFrame.
type Codec interface {
	// Variant returns the config name of this codec ("zstack", "deconz").
	Variant() string

	// ReadFrame reads and decodes a single frame from the stream.
	//
	// Both wire formats are self-resynchronising (zstack scans for its
	// start byte, deconz for its SLIP delimiter), so after a corrupt
	// frame the next call recovers at the following frame boundary.
	// ReadFrame returns ErrProtocolDesync only when a frame declares a
	// length the protocol cannot represent, which indicates the peer
	// speaks a different variant entirely.
	ReadFrame(r *bufio.Reader) (Frame, error)

	// EncodeFrame encodes a frame into the variant's wire format.
	EncodeFrame(f Frame) ([]byte, error)
}

// NewCodec returns the codec for the configured framing variant.
//
// Returns ErrUnknownVariant for anything other than the supported
// variants. Config validation catches this earlier; the check here is
// the last line of defence before bytes hit the wire.
func NewCodec(variant string) (Codec, error) {
	switch variant {
	case config.ProtocolZStack:
		return &zstackCodec{}, nil
	case config.ProtocolDeconz:
		return &deconzCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
}
