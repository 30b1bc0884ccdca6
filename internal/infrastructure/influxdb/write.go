package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// DeviceMeasurement is the measurement every device point is written to.
const DeviceMeasurement = "device_metrics"

// WriteDeviceMetric writes one attribute reading of a device.
//
// Tags are device, attribute and kind. Numeric and boolean readings go to
// the "value" field (booleans as 0/1); strings go to the "text" field.
// Other value types are ignored.
//
// Example:
//
//	client.WriteDeviceMetric("KitchenTemp", "temperature", "temperature_sensor", 21.5, time.Now())
func (c *Client) WriteDeviceMetric(device, attribute, kind string, value any, ts time.Time) {
	p, ok := devicePoint(device, attribute, kind, value, ts)
	if !ok {
		return
	}
	c.writePoint(p)
}

// devicePoint builds the device_metrics point for one reading. It reports
// false for value types that have no field mapping.
func devicePoint(device, attribute, kind string, value any, ts time.Time) (*write.Point, bool) {
	fields, ok := metricFields(value)
	if !ok {
		return nil, false
	}
	return write.NewPoint(
		DeviceMeasurement,
		map[string]string{
			"device":    device,
			"attribute": attribute,
			"kind":      kind,
		},
		fields,
		ts,
	), true
}

// writePoint hands p to the batching write API. Points are discarded
// while the client is not connected.
func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

// metricFields maps a device value onto point fields.
func metricFields(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case bool:
		f := 0.0
		if v {
			f = 1
		}
		return map[string]any{"value": f}, true
	case int:
		return map[string]any{"value": float64(v)}, true
	case int64:
		return map[string]any{"value": float64(v)}, true
	case float64:
		return map[string]any{"value": v}, true
	case string:
		return map[string]any{"text": v}, true
	default:
		return nil, false
	}
}
