package coordinator

import "errors"

// Sentinel errors for coordinator operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed indicates the initial connection or handshake failed.
	ErrConnectionFailed = errors.New("coordinator: connection failed")

	// ErrNotConnected indicates an operation was attempted while disconnected.
	ErrNotConnected = errors.New("coordinator: not connected")

	// ErrInvalidFrame indicates a received frame could not be parsed.
	ErrInvalidFrame = errors.New("coordinator: invalid frame")

	// ErrChecksumMismatch indicates a frame failed its integrity check.
	ErrChecksumMismatch = errors.New("coordinator: checksum mismatch")

	// ErrProtocolDesync indicates the byte stream can no longer be framed
	// safely. This is fatal: the connection must be closed and re-established.
	// The usual cause is a coordinator running a different framing variant
	// than the one configured.
	ErrProtocolDesync = errors.New("coordinator: protocol desync")

	// ErrCommandFailed indicates a command could not be sent to the coordinator.
	ErrCommandFailed = errors.New("coordinator: command failed")

	// ErrUnknownVariant indicates an unsupported framing variant was requested.
	ErrUnknownVariant = errors.New("coordinator: unknown protocol variant")

	// ErrUnknownAttribute indicates a command referenced an attribute that
	// is not in the catalogue and cannot be encoded for the radio.
	ErrUnknownAttribute = errors.New("coordinator: unknown attribute")

	// ErrDecodingFailed indicates an attribute value could not be decoded.
	ErrDecodingFailed = errors.New("coordinator: decoding failed")

	// ErrEncodingFailed indicates an attribute value could not be encoded.
	ErrEncodingFailed = errors.New("coordinator: encoding failed")
)
