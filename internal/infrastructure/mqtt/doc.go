// Package mqtt provides the broker connection used by the gateway's MQTT
// mirror.
//
// This package manages:
//   - Connection to the broker with paho's auto-reconnect
//   - Publishing with QoS and a 1MB payload limit
//   - Tracked subscriptions that survive reconnects
//   - A retained online/offline status with Last Will and Testament
//
// # Topics
//
// Every topic lives under a configurable prefix (default "matter-gateway"):
//
//	matter-gateway/state/{device}            retained JSON state
//	matter-gateway/event/{device}            change events
//	matter-gateway/command/{device}/{attr}   inbound writes
//	matter-gateway/system/status             online/offline
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllDeviceCommands(), client.QoS(),
//	    func(topic string, payload []byte) error {
//	        dev, attr, _ := client.Topics().ParseCommand(topic)
//	        return apply(dev, attr, payload)
//	    })
//
// Tests that need a broker skip when 127.0.0.1:1883 is not reachable.
package mqtt
