package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when an address does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device whose address
	// already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrDeviceRemoved is returned when an operation targets a device that
	// has been soft-deleted by an operator.
	ErrDeviceRemoved = errors.New("device: removed")

	// ErrNameTaken is returned when a rename collides with another
	// device's name.
	ErrNameTaken = errors.New("device: name taken")

	// ErrInvalidAddress is returned when a network address fails validation.
	ErrInvalidAddress = errors.New("device: invalid address")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")
)
