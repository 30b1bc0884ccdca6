package mirror

import "errors"

var (
	// ErrNoClient is returned by New without an MQTT client.
	ErrNoClient = errors.New("mirror: mqtt client is required")

	// ErrNoRegistry is returned by New without a registry.
	ErrNoRegistry = errors.New("mirror: registry is required")

	// ErrBadCommand is returned for command messages that cannot be decoded.
	ErrBadCommand = errors.New("mirror: malformed command")
)
