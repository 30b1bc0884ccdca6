package device

import (
	"math/rand/v2"
	"time"
)

// Updater is a device that produces its own readings on a fixed period.
type Updater interface {
	Device

	// Interval is the period between readings.
	Interval() time.Duration

	// NextReading derives the next value from the current state. It does
	// not apply it; the caller routes it through the registry.
	NextReading(r *rand.Rand) (attr string, value any)
}

// sensorBase adds the self-update period to base.
type sensorBase struct {
	base
	interval time.Duration
}

func (s *sensorBase) Interval() time.Duration { return s.interval }

func (s *sensorBase) setInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// FloatSensor reports one bounded float attribute.
type FloatSensor struct {
	sensorBase
	attr   string
	lo, hi float64
	next   func(r *rand.Rand, current float64) float64
}

// NewTemperatureSensor creates a sensor that starts at 25.0 and drifts by up
// to half a degree every 10 seconds, staying within 20..30.
func NewTemperatureSensor(name string) *FloatSensor {
	return newFloatSensor(name, KindTemperatureSensor, "temperature", 25.0, -50, 100, 10*time.Second,
		func(r *rand.Rand, cur float64) float64 {
			return round1(clamp(cur+(r.Float64()-0.5), 20, 30))
		})
}

// NewHumiditySensor creates a sensor that starts at 50% and reports a random
// 20..90% every 15 seconds.
func NewHumiditySensor(name string) *FloatSensor {
	return newFloatSensor(name, KindHumiditySensor, "humidity", 50.0, 0, 100, 15*time.Second,
		func(r *rand.Rand, _ float64) float64 {
			return round1(20 + r.Float64()*70)
		})
}

// NewIlluminanceSensor creates a sensor that starts at 300 lux and reports a
// random 0..1000 lux every 12 seconds. Writes up to 10000 lux are accepted.
func NewIlluminanceSensor(name string) *FloatSensor {
	return newFloatSensor(name, KindIlluminanceSensor, "lux", 300.0, 0, 10000, 12*time.Second,
		func(r *rand.Rand, _ float64) float64 {
			return round1(r.Float64() * 1000)
		})
}

func newFloatSensor(name string, kind Kind, attr string, initial, lo, hi float64, interval time.Duration,
	next func(*rand.Rand, float64) float64) *FloatSensor {
	s := &FloatSensor{attr: attr, lo: lo, hi: hi, next: next}
	s.name = name
	s.kind = kind
	s.state = State{attr: initial}
	s.interval = interval
	return s
}

func (s *FloatSensor) PrimaryAttribute() string { return s.attr }

func (s *FloatSensor) Write(attr string, v any) bool {
	if attr != s.attr {
		return false
	}
	f, ok := asFloat(v)
	if !ok || f < s.lo || f > s.hi {
		return false
	}
	s.set(s.attr, f)
	return true
}

func (s *FloatSensor) NextReading(r *rand.Rand) (string, any) {
	cur, _ := asFloat(s.get(s.attr))
	return s.attr, s.next(r, cur)
}

// LeakSensor reports a boolean leak flag, toggled at random every 20 seconds.
type LeakSensor struct{ sensorBase }

// NewLeakSensor creates a dry leak sensor.
func NewLeakSensor(name string) *LeakSensor {
	s := &LeakSensor{}
	s.name = name
	s.kind = KindLeakSensor
	s.state = State{"leak": false}
	s.interval = 20 * time.Second
	return s
}

func (*LeakSensor) PrimaryAttribute() string { return "leak" }

func (s *LeakSensor) Write(attr string, v any) bool {
	if attr != "leak" {
		return false
	}
	b, ok := asBool(v)
	if !ok {
		return false
	}
	s.set("leak", b)
	return true
}

func (s *LeakSensor) NextReading(r *rand.Rand) (string, any) {
	return "leak", r.IntN(2) == 1
}
