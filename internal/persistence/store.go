package persistence

import (
	"context"
	"fmt"

	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/config"
)

// Snapshot maps device name to that device's attribute map.
type Snapshot map[string]map[string]any

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for name, attrs := range s {
		cpy := make(map[string]any, len(attrs))
		for k, v := range attrs {
			cpy[k] = v
		}
		out[name] = cpy
	}
	return out
}

// Store is the durable key-value document of device states.
//
// Every method is serialised by the store: a Mutate runs its load, callback
// and save inside one critical section, so concurrent read-modify-write cycles
// never lose each other's updates.
type Store interface {
	// LoadAll returns the stored snapshot. A missing, empty or unreadable
	// document yields an empty snapshot; the problem is logged, not returned.
	LoadAll(ctx context.Context) Snapshot

	// SaveAll atomically replaces the whole document.
	SaveAll(ctx context.Context, snap Snapshot) error

	// Mutate loads the snapshot, applies fn and saves the result. If fn
	// returns an error nothing is saved and the error is returned.
	Mutate(ctx context.Context, fn func(Snapshot) error) error

	Close() error
}

// Logger defines the logging interface used by the stores.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Open creates the store selected by cfg.Type.
//
// Parameters:
//   - cfg: Persistence section of the gateway configuration
//   - logger: Receives warnings about unreadable documents; may be nil
//
// Returns:
//   - Store: Ready to use; the caller must Close it
//   - error: ErrUnknownType, or the backend's open error
func Open(cfg config.PersistenceConfig, logger Logger) (Store, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	switch cfg.Type {
	case "file", "":
		return NewFileStore(cfg.Path, logger)
	case "bolt":
		return NewBoltStore(cfg.Path, logger)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
}

// DeviceStates adapts a Store to per-device access, as used by the device
// registry.
type DeviceStates struct {
	store Store
}

// NewDeviceStates wraps s.
func NewDeviceStates(s Store) *DeviceStates {
	return &DeviceStates{store: s}
}

// LoadDevice returns the persisted attributes of one device.
func (d *DeviceStates) LoadDevice(ctx context.Context, name string) (map[string]any, bool) {
	attrs, ok := d.store.LoadAll(ctx)[name]
	return attrs, ok
}

// SaveDevice replaces one device's entry, leaving every other entry intact.
func (d *DeviceStates) SaveDevice(ctx context.Context, name string, attrs map[string]any) error {
	if name == "" {
		return ErrEmptyName
	}
	cpy := make(map[string]any, len(attrs))
	for k, v := range attrs {
		cpy[k] = v
	}
	return d.store.Mutate(ctx, func(s Snapshot) error {
		s[name] = cpy
		return nil
	})
}

// decodeSnapshot keeps only object-valued entries of a decoded document.
func decodeSnapshot(raw map[string]any, logger Logger) Snapshot {
	snap := make(Snapshot, len(raw))
	for name, v := range raw {
		attrs, ok := v.(map[string]any)
		if !ok {
			logger.Warn("ignoring malformed state entry", "dev", name)
			continue
		}
		snap[name] = attrs
	}
	return snap
}
