package larnitech

import "errors"

// Domain errors for the Larnitech link.
var (
	// ErrUnavailable is returned when every attempt of a request failed.
	ErrUnavailable = errors.New("larnitech: controller unavailable")

	// ErrBadStatus is returned for a non-2xx HTTP response.
	ErrBadStatus = errors.New("larnitech: unexpected http status")

	// ErrInvalidResponse is returned when a response body cannot be decoded.
	ErrInvalidResponse = errors.New("larnitech: invalid response")

	// ErrInvalidFrame is returned for stream frames that are not {id, value}.
	ErrInvalidFrame = errors.New("larnitech: invalid stream frame")
)
