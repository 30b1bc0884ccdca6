// Package device provides the virtual devices and the Device Registry of the
// Matter Gateway.
//
// The registry is the authoritative catalogue of named devices. Every write,
// whatever its origin (a dashboard command, an MQTT command, a controller
// event or a sensor's own update loop), goes through one path:
//
//	validate ──▶ mutate ──▶ persist ──▶ notify
//	(Device.Write)        (StateStore)  (Publisher)
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                         Device Registry                          │
//	│                                                                  │
//	│  ┌────────────────┐   ┌────────────────┐   ┌────────────────┐    │
//	│  │    Registry    │   │    Devices     │   │   Publishers   │    │
//	│  │ (registry.go)  │──▶│  (device.go,   │   │ (publisher.go) │    │
//	│  │                │   │   sensor.go)   │   │                │    │
//	│  │ • name index   │   │ • validation   │   │ • WS hub       │    │
//	│  │ • write path   │   │ • own mutex    │   │ • MQTT mirror  │    │
//	│  │ • restore      │   │ • readings     │   │ • history, TSDB│    │
//	│  └────────────────┘   └────────────────┘   └────────────────┘    │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Kinds
//
//   - switch: power (bool)
//   - dimmer: power (bool), brightness (int 0..100, >0 switches on)
//   - thermostat: mode (heat/cool/auto), setpoint (int 10..30)
//   - temperature_sensor, humidity_sensor, illuminance_sensor: one float
//   - leak_sensor: leak (bool)
//
// Sensor kinds implement Updater and are driven by RunUpdater.
//
// # Usage
//
//	reg := device.NewRegistry(store)
//	reg.SetLogger(log)
//	reg.SetPublisher(device.NewPublishers(log, hub, mirror))
//
//	for _, d := range device.Defaults() {
//	    reg.Register(ctx, d)
//	}
//
//	err := reg.SetAttribute(ctx, "BedroomDimmer", "brightness", 40)
//	code := device.ErrorCode(err) // "", "device_not_found", ...
//
// # Thread Safety
//
// Writes to one device are serialised from validation through notification.
// Notification is globally ordered, so every publisher sees the same event
// sequence. Reads never block on persistence.
package device
