package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StateStore persists the attribute map of each device.
//
// SaveDevice must be atomic with respect to other SaveDevice calls: the
// stored blob for other devices is never lost or interleaved.
type StateStore interface {
	LoadDevice(ctx context.Context, name string) (map[string]any, bool)
	SaveDevice(ctx context.Context, name string, attrs map[string]any) error
}

// entry pairs a device with the lock that serialises its write path.
type entry struct {
	dev Device
	mu  sync.Mutex
}

// Registry is the authoritative set of devices, keyed by unique name.
//
// Every accepted write follows one path: validate, mutate, persist, notify.
// Writes to the same device are serialised end to end; writes to different
// devices only contend on notification, which is globally ordered.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*entry

	store     StateStore
	publisher Publisher
	notifyMu  sync.Mutex
	observer  WriteObserver

	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry. A nil store disables persistence.
func NewRegistry(store StateStore) *Registry {
	return &Registry{
		devices: make(map[string]*entry),
		store:   store,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetPublisher installs the change publisher. Nil disables notification.
// Call before writes start.
func (r *Registry) SetPublisher(p Publisher) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.publisher = p
}

// WriteObserver is told about every write attempt after validation.
type WriteObserver interface {
	ObserveWrite(source Source, accepted bool)
}

// SetWriteObserver installs the write observer. Call before writes start.
func (r *Registry) SetWriteObserver(o WriteObserver) {
	r.observer = o
}

// Register adds a device, replacing any device with the same name.
//
// Persisted attributes for the name are replayed through the device's own
// validation before it becomes visible. Values the device rejects are
// skipped; restore never fails registration.
func (r *Registry) Register(ctx context.Context, d Device) {
	r.restore(ctx, d)

	r.mu.Lock()
	_, existed := r.devices[d.Name()]
	r.devices[d.Name()] = &entry{dev: d}
	r.mu.Unlock()

	if existed {
		r.logger.Warn("device replaced", "dev", d.Name(), "kind", d.Kind())
		return
	}
	r.logger.Debug("device registered", "dev", d.Name(), "kind", d.Kind())
}

func (r *Registry) restore(ctx context.Context, d Device) {
	if r.store == nil {
		return
	}
	attrs, ok := r.store.LoadDevice(ctx, d.Name())
	if !ok {
		return
	}
	// Sorted so dimmer brightness is replayed before power.
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !d.Write(k, attrs[k]) {
			r.logger.Debug("persisted attribute skipped", "dev", d.Name(), "attr", k, "val", attrs[k])
		}
	}
}

// Get returns the device registered under name.
func (r *Registry) Get(name string) (Device, error) {
	e := r.lookup(name)
	if e == nil {
		return nil, ErrDeviceNotFound
	}
	return e.dev, nil
}

func (r *Registry) lookup(name string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[name]
}

// Devices returns all registered devices ordered by name.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, e := range r.devices {
		out = append(out, e.dev)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the sorted device names.
func (r *Registry) Names() []string {
	devs := r.Devices()
	names := make([]string, len(devs))
	for i, d := range devs {
		names[i] = d.Name()
	}
	return names
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// ListAll returns a snapshot of every device's state keyed by name.
// Each state is read atomically; the map as a whole is not a single instant.
func (r *Registry) ListAll() map[string]State {
	devs := r.Devices()
	out := make(map[string]State, len(devs))
	for _, d := range devs {
		out[d.Name()] = d.Read()
	}
	return out
}

// FindByUpstreamID returns the device mapped to a controller identifier.
func (r *Registry) FindByUpstreamID(id string) (Device, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.devices {
		if e.dev.UpstreamID() == id {
			return e.dev, true
		}
	}
	return nil, false
}

// SetAttribute applies a command-sourced write. See SetAttributeFrom.
func (r *Registry) SetAttribute(ctx context.Context, name, attr string, val any) error {
	return r.SetAttributeFrom(ctx, SourceCommand, name, attr, val)
}

// SetAttributeFrom validates and applies one attribute write, persists the
// device's full state and publishes an update event.
//
// Parameters:
//   - ctx: Context passed to the store and publisher
//   - source: Origin of the write, carried on the event
//   - name, attr, val: The write itself
//
// Returns:
//   - error: ErrDeviceNotFound or ErrInvalidAttribute (wrapped). Persistence
//     and publisher failures are logged, never returned.
func (r *Registry) SetAttributeFrom(ctx context.Context, source Source, name, attr string, val any) error {
	e := r.lookup(name)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	accepted := e.dev.Write(attr, val)
	if r.observer != nil {
		r.observer.ObserveWrite(source, accepted)
	}
	if !accepted {
		return fmt.Errorf("%w: %s.%s", ErrInvalidAttribute, name, attr)
	}
	state := e.dev.Read()

	if r.store != nil {
		if err := r.store.SaveDevice(ctx, name, state); err != nil {
			r.logger.Error("persisting device state", "dev", name, "error", err)
		}
	}

	r.notify(ctx, Event{
		Event:  EventUpdate,
		Dev:    name,
		Attr:   attr,
		Val:    state[attr],
		Kind:   e.dev.Kind(),
		Source: source,
		State:  state,
		Time:   r.now().UTC(),
	})
	return nil
}

func (r *Registry) notify(ctx context.Context, ev Event) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if r.publisher == nil {
		return
	}
	safePublish(ctx, r.publisher, ev, r.logger)
}
