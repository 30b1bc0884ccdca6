// Package larnitech links the gateway to a Larnitech home-automation
// controller.
//
// Three parts share one configuration section:
//
//   - Client issues request/response calls (device list, get, set) against
//     the controller's api2 endpoint. On first use it probes the LAN address
//     and falls back to the cloud relay. Every call is retried with a linear
//     back-off; a 502 from a legacy /api/ path is retried once on /api2/.
//   - Listener holds the controller's event stream open and applies each
//     {"id": ..., "value": ...} frame to the mapped device's primary
//     attribute. It reconnects forever after a fixed delay.
//   - Forwarder pushes locally issued writes (commands and MQTT) back to the
//     controller. Writes that came from the controller or from sensor loops
//     are never forwarded.
//
// Credentials are sent either as a bearer token or as the controller's
// static e-passw/srv-serial headers. They are never logged.
package larnitech
