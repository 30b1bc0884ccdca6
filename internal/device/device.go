package device

import (
	"fmt"
	"strings"
	"sync"
)

// Device is a virtual device exposing named attributes.
//
// Implementations guard their state internally, so every method is safe for
// concurrent use. Write is total: it reports acceptance and leaves the state
// untouched on rejection.
type Device interface {
	Name() string
	Kind() Kind

	// UpstreamID is the controller-side identifier, or "" when unmapped.
	UpstreamID() string

	// PrimaryAttribute is the attribute a bare controller value targets.
	PrimaryAttribute() string

	// Read returns an independent copy of the current state.
	Read() State

	// Write validates and applies one attribute value.
	Write(attr string, v any) bool
}

// base carries identity and the guarded attribute map shared by all kinds.
type base struct {
	name       string
	kind       Kind
	upstreamID string

	mu    sync.Mutex
	state State
}

func (b *base) Name() string       { return b.name }
func (b *base) Kind() Kind         { return b.kind }
func (b *base) UpstreamID() string { return b.upstreamID }

func (b *base) Read() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Clone()
}

// get returns one attribute under lock.
func (b *base) get(attr string) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state[attr]
}

// set stores already validated values under lock.
func (b *base) set(kv ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i+1 < len(kv); i += 2 {
		b.state[kv[i].(string)] = kv[i+1]
	}
}

// Switch is a plain on/off device.
type Switch struct{ base }

// NewSwitch creates a switch that starts off.
func NewSwitch(name string) *Switch {
	return &Switch{base{name: name, kind: KindSwitch, state: State{"power": false}}}
}

func (*Switch) PrimaryAttribute() string { return "power" }

func (s *Switch) Write(attr string, v any) bool {
	if attr != "power" {
		return false
	}
	b, ok := asBool(v)
	if !ok {
		return false
	}
	s.set("power", b)
	return true
}

// Dimmer is an on/off device with a 0..100 brightness level.
type Dimmer struct{ base }

// NewDimmer creates a dimmer that starts off at brightness 0.
func NewDimmer(name string) *Dimmer {
	return &Dimmer{base{name: name, kind: KindDimmer, state: State{"power": false, "brightness": 0}}}
}

func (*Dimmer) PrimaryAttribute() string { return "brightness" }

// Write applies power or brightness. A positive brightness also switches the
// dimmer on; zero leaves power as it was.
func (d *Dimmer) Write(attr string, v any) bool {
	switch attr {
	case "power":
		b, ok := asBool(v)
		if !ok {
			return false
		}
		d.set("power", b)
		return true
	case "brightness":
		level, ok := intInRange(v, 0, 100)
		if !ok {
			return false
		}
		if level > 0 {
			d.set("brightness", level, "power", true)
		} else {
			d.set("brightness", level)
		}
		return true
	default:
		return false
	}
}

// Thermostat modes.
const (
	ModeHeat = "heat"
	ModeCool = "cool"
	ModeAuto = "auto"
)

// Setpoint bounds in degrees Celsius.
const (
	MinSetpoint = 10
	MaxSetpoint = 30
)

// Thermostat holds an operating mode and an integer setpoint.
type Thermostat struct{ base }

// NewThermostat creates a thermostat in auto mode at 24 degrees.
func NewThermostat(name string) *Thermostat {
	return &Thermostat{base{name: name, kind: KindThermostat, state: State{"mode": ModeAuto, "setpoint": 24}}}
}

func (*Thermostat) PrimaryAttribute() string { return "setpoint" }

func (t *Thermostat) Write(attr string, v any) bool {
	switch attr {
	case "mode":
		s, ok := v.(string)
		if !ok {
			return false
		}
		mode := strings.ToLower(strings.TrimSpace(s))
		switch mode {
		case ModeHeat, ModeCool, ModeAuto:
			t.set("mode", mode)
			return true
		}
		return false
	case "setpoint":
		sp, ok := intInRange(v, MinSetpoint, MaxSetpoint)
		if !ok {
			return false
		}
		t.set("setpoint", sp)
		return true
	default:
		return false
	}
}

// New builds a device of any supported kind from its description.
//
// Parameters:
//   - spec: Name, kind (or alias), optional upstream id and sensor interval
//
// Returns:
//   - Device: The constructed device in its default state
//   - error: ErrInvalidName or ErrInvalidKind
func New(spec Spec) (Device, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, ErrInvalidName
	}
	kind, ok := ParseKind(spec.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, spec.Kind)
	}

	var (
		dev Device
		b   *base
	)
	switch kind {
	case KindSwitch:
		d := NewSwitch(spec.Name)
		dev, b = d, &d.base
	case KindDimmer:
		d := NewDimmer(spec.Name)
		dev, b = d, &d.base
	case KindThermostat:
		d := NewThermostat(spec.Name)
		dev, b = d, &d.base
	case KindTemperatureSensor:
		d := NewTemperatureSensor(spec.Name)
		d.setInterval(spec.UpdateInterval)
		dev, b = d, &d.base
	case KindHumiditySensor:
		d := NewHumiditySensor(spec.Name)
		d.setInterval(spec.UpdateInterval)
		dev, b = d, &d.base
	case KindIlluminanceSensor:
		d := NewIlluminanceSensor(spec.Name)
		d.setInterval(spec.UpdateInterval)
		dev, b = d, &d.base
	case KindLeakSensor:
		d := NewLeakSensor(spec.Name)
		d.setInterval(spec.UpdateInterval)
		dev, b = d, &d.base
	}
	b.upstreamID = spec.UpstreamID
	return dev, nil
}

// Defaults returns the demo inventory used when no devices are configured.
func Defaults() []Device {
	return []Device{
		NewSwitch("LivingRoomLamp"),
		NewDimmer("BedroomDimmer"),
		NewThermostat("MainThermostat"),
		NewTemperatureSensor("RoomTempSensor"),
		NewHumiditySensor("HomeHumidity"),
		NewIlluminanceSensor("WindowLight"),
		NewLeakSensor("PipeLeak"),
	}
}
