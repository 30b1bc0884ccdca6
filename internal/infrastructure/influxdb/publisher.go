package influxdb

import (
	"context"
	"time"

	"github.com/SaiMyBB/Matter-Gateway/internal/device"
)

// MetricWriter is satisfied by *Client.
type MetricWriter interface {
	WriteDeviceMetric(device, attribute, kind string, value any, ts time.Time)
}

// Publisher records every accepted device write as a telemetry point.
// Writes are batched by the client, so Publish never blocks on the network.
type Publisher struct {
	w MetricWriter
}

// NewPublisher wraps a metric writer as a device.Publisher.
func NewPublisher(w MetricWriter) *Publisher {
	return &Publisher{w: w}
}

// Publish implements device.Publisher.
func (p *Publisher) Publish(_ context.Context, ev device.Event) {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	p.w.WriteDeviceMetric(ev.Dev, ev.Attr, string(ev.Kind), ev.Val, ts)
}
