package persistence

import "errors"

var (
	// ErrUnknownType is returned by Open for an unsupported store type.
	ErrUnknownType = errors.New("persistence: unknown store type")

	// ErrClosed is returned when a closed store is written to.
	ErrClosed = errors.New("persistence: store closed")

	// ErrEmptyName is returned when saving a device without a name.
	ErrEmptyName = errors.New("persistence: empty device name")

	// ErrEmptyPath is returned when a file-backed store has no path.
	ErrEmptyPath = errors.New("persistence: empty path")
)
