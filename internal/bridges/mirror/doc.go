// Package mirror reflects the device registry onto MQTT.
//
// Every accepted write produces two messages:
//
//	{prefix}/state/{device}   retained, the device's full state object
//	{prefix}/event/{device}   the change itself with source and timestamp
//
// Writes arrive on {prefix}/command/{device}/{attr}. The payload is a JSON
// value (true, 42, "heat") or an object {"value": ...}. Commands go through
// the same validation as every other write and are tagged with source "mqtt".
//
// Outbound messages are queued so a slow broker never stalls the registry's
// publish path. When the queue is full the newest message is dropped and
// counted.
package mirror
