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
	// ErrDeviceNotFound is returned when a device name is not registered.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidAttribute is returned when a device rejects an attribute or value.
	ErrInvalidAttribute = errors.New("device: invalid attribute or value")

	// ErrInvalidKind is returned when a kind name is not recognised.
	ErrInvalidKind = errors.New("device: invalid kind")

	// ErrInvalidName is returned when a device name is empty.
	ErrInvalidName = errors.New("device: invalid name")
)

// Error codes reported to subscribers and API clients.
const (
	CodeDeviceNotFound   = "device_not_found"
	CodeInvalidAttribute = "invalid_attribute_or_value"
	CodeInternal         = "internal_error"
)

// ErrorCode maps a registry error onto its wire code. It returns "" for nil.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeviceNotFound):
		return CodeDeviceNotFound
	case errors.Is(err, ErrInvalidAttribute):
		return CodeInvalidAttribute
	default:
		return CodeInternal
	}
}
