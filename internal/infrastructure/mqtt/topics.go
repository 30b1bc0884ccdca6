package mqtt

import "strings"

// DefaultTopicPrefix is the root of every gateway topic.
const DefaultTopicPrefix = "matter-gateway"

// Topics builds gateway topic strings under a configurable prefix.
//
// Layout:
//
//	{prefix}/state/{device}            retained full device state
//	{prefix}/event/{device}            one message per attribute change
//	{prefix}/command/{device}/{attr}   inbound writes (JSON value)
//	{prefix}/system/status             online/offline, also the LWT
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) root() string {
	p := strings.TrimSuffix(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// DeviceState returns the retained state topic for a device.
func (t Topics) DeviceState(device string) string {
	return t.root() + "/state/" + device
}

// DeviceEvent returns the change event topic for a device.
func (t Topics) DeviceEvent(device string) string {
	return t.root() + "/event/" + device
}

// DeviceCommand returns the command topic for one attribute of a device.
func (t Topics) DeviceCommand(device, attr string) string {
	return t.root() + "/command/" + device + "/" + attr
}

// AllDeviceCommands matches every command topic.
func (t Topics) AllDeviceCommands() string {
	return t.root() + "/command/+/+"
}

// AllDeviceStates matches every retained state topic.
func (t Topics) AllDeviceStates() string {
	return t.root() + "/state/+"
}

// SystemStatus returns the gateway status topic.
func (t Topics) SystemStatus() string {
	return t.root() + "/system/status"
}

// ParseCommand extracts device and attribute from a command topic.
// ok is false when topic is not a command topic under this prefix.
func (t Topics) ParseCommand(topic string) (device, attr string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.root()+"/command/")
	if !found {
		return "", "", false
	}
	device, attr, found = strings.Cut(rest, "/")
	if !found || device == "" || attr == "" || strings.Contains(attr, "/") {
		return "", "", false
	}
	return device, attr, true
}
