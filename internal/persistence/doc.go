// Package persistence stores the last known attributes of every device so
// they survive a gateway restart.
//
// The stored form is a single document mapping device name to attribute map:
//
//	{
//	  "BedroomDimmer": {"brightness": 40, "power": true},
//	  "MainThermostat": {"mode": "heat", "setpoint": 21}
//	}
//
// Three backends implement Store:
//
//   - FileStore: the document as an indented JSON file (default
//     devices_state.json), replaced atomically on every save
//   - BoltStore: a bbolt database with one key per device
//   - MemoryStore: process memory, for tests and ephemeral runs
//
// A missing or unreadable document is treated as empty and logged; the
// gateway always starts. DeviceStates adapts a Store to the per-device
// interface the registry consumes.
package persistence
