package device

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

func TestSwitch_Write(t *testing.T) {
	tests := []struct {
		name string
		attr string
		val  any
		want bool
	}{
		{"bool true", "power", true, true},
		{"bool false", "power", false, true},
		{"int rejected", "power", 1, false},
		{"string rejected", "power", "true", false},
		{"nil rejected", "power", nil, false},
		{"unknown attribute", "brightness", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSwitch("lamp")
			if got := s.Write(tt.attr, tt.val); got != tt.want {
				t.Errorf("Write(%q, %v) = %v, want %v", tt.attr, tt.val, got, tt.want)
			}
			if !tt.want && s.Read()["power"] != false {
				t.Error("rejected write changed state")
			}
		})
	}
}

func TestDimmer_Write(t *testing.T) {
	tests := []struct {
		name      string
		attr      string
		val       any
		accept    bool
		wantLevel int
		wantPower bool
	}{
		{"int level", "brightness", 42, true, 42, true},
		{"json float level", "brightness", float64(60), true, 60, true},
		{"string level", "brightness", "70", true, 70, true},
		{"zero keeps power", "brightness", 0, true, 0, false},
		{"upper bound", "brightness", 100, true, 100, true},
		{"above range", "brightness", 101, false, 0, false},
		{"negative", "brightness", -1, false, 0, false},
		{"fraction", "brightness", 42.5, false, 0, false},
		{"bool rejected", "brightness", true, false, 0, false},
		{"garbage string", "brightness", "bright", false, 0, false},
		{"power on", "power", true, true, 0, true},
		{"power int rejected", "power", 1, false, 0, false},
		{"unknown attribute", "colour", "red", false, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDimmer("dimmer")
			if got := d.Write(tt.attr, tt.val); got != tt.accept {
				t.Fatalf("Write(%q, %v) = %v, want %v", tt.attr, tt.val, got, tt.accept)
			}
			st := d.Read()
			if st["brightness"] != tt.wantLevel {
				t.Errorf("brightness = %v, want %d", st["brightness"], tt.wantLevel)
			}
			if st["power"] != tt.wantPower {
				t.Errorf("power = %v, want %v", st["power"], tt.wantPower)
			}
		})
	}
}

func TestDimmer_ZeroBrightnessLeavesPowerOn(t *testing.T) {
	d := NewDimmer("dimmer")
	d.Write("brightness", 50)
	d.Write("brightness", 0)
	if d.Read()["power"] != true {
		t.Error("brightness 0 switched the dimmer off")
	}
}

func TestThermostat_Write(t *testing.T) {
	tests := []struct {
		name   string
		attr   string
		val    any
		accept bool
		want   any
	}{
		{"mode upper case", "mode", "HEAT", true, "heat"},
		{"mode cool", "mode", "cool", true, "cool"},
		{"mode unknown", "mode", "dry", false, "auto"},
		{"mode non string", "mode", 1, false, "auto"},
		{"setpoint low bound", "setpoint", 10, true, 10},
		{"setpoint high bound", "setpoint", 30, true, 30},
		{"setpoint too high", "setpoint", 31, false, 24},
		{"setpoint too low", "setpoint", 9, false, 24},
		{"setpoint string", "setpoint", "22", true, 22},
		{"setpoint bool", "setpoint", false, false, 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := NewThermostat("thermo")
			if got := th.Write(tt.attr, tt.val); got != tt.accept {
				t.Fatalf("Write(%q, %v) = %v, want %v", tt.attr, tt.val, got, tt.accept)
			}
			if got := th.Read()[tt.attr]; got != tt.want {
				t.Errorf("%s = %v, want %v", tt.attr, got, tt.want)
			}
		})
	}
}

func TestFloatSensors_Write(t *testing.T) {
	tests := []struct {
		name   string
		dev    *FloatSensor
		val    any
		accept bool
	}{
		{"temperature in range", NewTemperatureSensor("t"), 21.5, true},
		{"temperature numeric string", NewTemperatureSensor("t"), "19.2", true},
		{"temperature too hot", NewTemperatureSensor("t"), 150.0, false},
		{"temperature NaN", NewTemperatureSensor("t"), math.NaN(), false},
		{"humidity int", NewHumiditySensor("h"), 55, true},
		{"humidity above 100", NewHumiditySensor("h"), 100.1, false},
		{"lux upper bound", NewIlluminanceSensor("l"), 10000, true},
		{"lux above range", NewIlluminanceSensor("l"), 10001, false},
		{"lux bool", NewIlluminanceSensor("l"), true, false},
		{"json number", NewHumiditySensor("h"), json.Number("12.5"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dev.Write(tt.dev.PrimaryAttribute(), tt.val); got != tt.accept {
				t.Errorf("Write(%v) = %v, want %v", tt.val, got, tt.accept)
			}
		})
	}
}

func TestSensorDefaults(t *testing.T) {
	tests := []struct {
		dev      Updater
		attr     string
		initial  any
		interval time.Duration
	}{
		{NewTemperatureSensor("t"), "temperature", 25.0, 10 * time.Second},
		{NewHumiditySensor("h"), "humidity", 50.0, 15 * time.Second},
		{NewIlluminanceSensor("l"), "lux", 300.0, 12 * time.Second},
		{NewLeakSensor("k"), "leak", false, 20 * time.Second},
	}
	for _, tt := range tests {
		if got := tt.dev.Read()[tt.attr]; got != tt.initial {
			t.Errorf("%s initial %s = %v, want %v", tt.dev.Kind(), tt.attr, got, tt.initial)
		}
		if tt.dev.Interval() != tt.interval {
			t.Errorf("%s interval = %v, want %v", tt.dev.Kind(), tt.dev.Interval(), tt.interval)
		}
	}
}

func TestNextReading_StaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	temp := NewTemperatureSensor("t")
	hum := NewHumiditySensor("h")
	lux := NewIlluminanceSensor("l")
	leak := NewLeakSensor("k")

	for i := 0; i < 500; i++ {
		attr, v := temp.NextReading(rng)
		f := v.(float64)
		if attr != "temperature" || f < 20 || f > 30 {
			t.Fatalf("temperature reading %s=%v out of bounds", attr, f)
		}
		prev := temp.Read()["temperature"].(float64)
		if math.Abs(f-prev) > 0.51 {
			t.Fatalf("temperature drift %v -> %v exceeds 0.5", prev, f)
		}
		if !temp.Write(attr, v) {
			t.Fatalf("sensor rejected its own reading %v", v)
		}

		if _, v := hum.NextReading(rng); v.(float64) < 20 || v.(float64) > 90 {
			t.Fatalf("humidity reading %v out of bounds", v)
		}
		if _, v := lux.NextReading(rng); v.(float64) < 0 || v.(float64) > 1000 {
			t.Fatalf("lux reading %v out of bounds", v)
		}
		if _, v := leak.NextReading(rng); v != true && v != false {
			t.Fatalf("leak reading %v is not a bool", v)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		kind string
		want Kind
	}{
		{"switch", KindSwitch},
		{"lamp", KindSwitch},
		{"Dimmer", KindDimmer},
		{"thermostat", KindThermostat},
		{"temperature", KindTemperatureSensor},
		{"humidity_sensor", KindHumiditySensor},
		{"light_sensor", KindIlluminanceSensor},
		{"leak", KindLeakSensor},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			d, err := New(Spec{Name: "x", Kind: tt.kind, UpstreamID: "7"})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if d.Kind() != tt.want {
				t.Errorf("Kind() = %q, want %q", d.Kind(), tt.want)
			}
			if d.UpstreamID() != "7" {
				t.Errorf("UpstreamID() = %q, want 7", d.UpstreamID())
			}
			if _, ok := d.Read()[d.PrimaryAttribute()]; !ok {
				t.Errorf("primary attribute %q missing from state", d.PrimaryAttribute())
			}
		})
	}

	if _, err := New(Spec{Name: "x", Kind: "toaster"}); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("New(toaster) error = %v, want ErrInvalidKind", err)
	}
	if _, err := New(Spec{Name: " ", Kind: "switch"}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("New(blank name) error = %v, want ErrInvalidName", err)
	}

	d, _ := New(Spec{Name: "fast", Kind: "humidity", UpdateInterval: time.Second})
	if d.(Updater).Interval() != time.Second {
		t.Errorf("Interval() = %v, want 1s override", d.(Updater).Interval())
	}
}

func TestRead_ReturnsCopy(t *testing.T) {
	s := NewSwitch("lamp")
	st := s.Read()
	st["power"] = true
	if s.Read()["power"] != false {
		t.Error("mutating Read() result changed device state")
	}
}

func TestDefaults(t *testing.T) {
	names := map[string]Kind{
		"LivingRoomLamp": KindSwitch,
		"BedroomDimmer":  KindDimmer,
		"MainThermostat": KindThermostat,
		"RoomTempSensor": KindTemperatureSensor,
		"HomeHumidity":   KindHumiditySensor,
		"WindowLight":    KindIlluminanceSensor,
		"PipeLeak":       KindLeakSensor,
	}
	devs := Defaults()
	if len(devs) != len(names) {
		t.Fatalf("Defaults() returned %d devices, want %d", len(devs), len(names))
	}
	for _, d := range devs {
		if names[d.Name()] != d.Kind() {
			t.Errorf("%s kind = %q, want %q", d.Name(), d.Kind(), names[d.Name()])
		}
	}
}
