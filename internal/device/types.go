package device

import (
	"strings"
	"time"
)

// Kind identifies one of the closed set of device kinds the gateway emulates.
type Kind string

// Device kinds.
const (
	KindSwitch            Kind = "switch"
	KindDimmer            Kind = "dimmer"
	KindThermostat        Kind = "thermostat"
	KindTemperatureSensor Kind = "temperature_sensor"
	KindHumiditySensor    Kind = "humidity_sensor"
	KindIlluminanceSensor Kind = "illuminance_sensor"
	KindLeakSensor        Kind = "leak_sensor"
)

// AllKinds returns every supported kind.
func AllKinds() []Kind {
	return []Kind{
		KindSwitch,
		KindDimmer,
		KindThermostat,
		KindTemperatureSensor,
		KindHumiditySensor,
		KindIlluminanceSensor,
		KindLeakSensor,
	}
}

// kindAliases maps the type names found in existing inventory files onto kinds.
var kindAliases = map[string]Kind{
	"lamp":         KindSwitch,
	"onofflamp":    KindSwitch,
	"light":        KindSwitch,
	"temperature":  KindTemperatureSensor,
	"temp":         KindTemperatureSensor,
	"humidity":     KindHumiditySensor,
	"light_sensor": KindIlluminanceSensor,
	"lightsensor":  KindIlluminanceSensor,
	"lux":          KindIlluminanceSensor,
	"leak":         KindLeakSensor,
	"leaksensor":   KindLeakSensor,
}

// ParseKind resolves a kind name or one of its aliases, case-insensitively.
func ParseKind(s string) (Kind, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, k := range AllKinds() {
		if string(k) == name {
			return k, true
		}
	}
	k, ok := kindAliases[name]
	return k, ok
}

// State is an attribute-name to value map. Values are bool, int, float64 or
// string depending on the attribute.
type State map[string]any

// Clone returns an independent copy. Values are scalars so a shallow copy suffices.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	cpy := make(State, len(s))
	for k, v := range s {
		cpy[k] = v
	}
	return cpy
}

// Source records where an accepted write came from.
type Source string

// Write sources.
const (
	SourceCommand  Source = "command"
	SourceSensor   Source = "sensor"
	SourceUpstream Source = "upstream"
	SourceMQTT     Source = "mqtt"
)

// EventUpdate is the only event name emitted by the registry.
const EventUpdate = "update"

// Event is emitted after every accepted write.
//
// The JSON form is the broadcast payload {"event","dev","attr","val"}. The
// remaining fields are for in-process publishers.
type Event struct {
	Event string `json:"event"`
	Dev   string `json:"dev"`
	Attr  string `json:"attr"`
	Val   any    `json:"val"`

	Kind   Kind      `json:"-"`
	Source Source    `json:"-"`
	State  State     `json:"-"`
	Time   time.Time `json:"-"`
}

// Spec describes a device to construct.
type Spec struct {
	Name       string
	Kind       string
	UpstreamID string
	// UpdateInterval overrides the self-update period of sensor kinds.
	UpdateInterval time.Duration
}
