package larnitech

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/SaiMyBB/Matter-Gateway/internal/device"
)

const (
	forwardQueueSize = 64
	forwardTimeout   = 30 * time.Second
)

// StateSetter sends a value to a controller device (satisfied by *Client).
type StateSetter interface {
	SetState(ctx context.Context, id string, value any) bool
}

// DeviceLookup resolves registry devices (satisfied by *device.Registry).
type DeviceLookup interface {
	Get(name string) (device.Device, error)
}

type forwardJob struct {
	id    string
	dev   string
	value any
}

// Forwarder is a device.Publisher that pushes local writes to the
// controller.
//
// Only command- and MQTT-sourced events on devices with an upstream id are
// forwarded. Delivery is asynchronous through a bounded queue; when the
// queue is full the event is dropped and counted.
type Forwarder struct {
	client  StateSetter
	devices DeviceLookup
	logger  Logger

	queue   chan forwardJob
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewForwarder creates a forwarder. A nil logger discards output.
func NewForwarder(client StateSetter, devices DeviceLookup, logger Logger) *Forwarder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Forwarder{
		client:  client,
		devices: devices,
		logger:  logger,
		queue:   make(chan forwardJob, forwardQueueSize),
	}
}

// Publish implements device.Publisher. It never blocks.
func (f *Forwarder) Publish(_ context.Context, ev device.Event) {
	if ev.Source != device.SourceCommand && ev.Source != device.SourceMQTT {
		return
	}
	d, err := f.devices.Get(ev.Dev)
	if err != nil || d.UpstreamID() == "" {
		return
	}
	// The controller carries one value per device, the primary attribute.
	if ev.Attr != d.PrimaryAttribute() {
		return
	}

	select {
	case f.queue <- forwardJob{id: d.UpstreamID(), dev: ev.Dev, value: ev.Val}:
	default:
		f.dropped.Add(1)
		f.logger.Warn("controller forward queue full, dropping write", "dev", ev.Dev, "attr", ev.Attr)
	}
}

// Run delivers queued writes, one at a time and in order, until ctx is
// cancelled. Writes still queued at cancellation are discarded.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-f.queue:
			jobCtx, cancel := context.WithTimeout(ctx, forwardTimeout)
			ok := f.client.SetState(jobCtx, job.id, job.value)
			cancel()
			if !ok {
				f.failed.Add(1)
				f.logger.Warn("controller rejected forwarded write", "dev", job.dev, "id", job.id)
				continue
			}
			f.logger.Debug("write forwarded to controller", "dev", job.dev, "id", job.id)
		}
	}
}

// Dropped returns the number of writes discarded because the queue was full.
func (f *Forwarder) Dropped() uint64 { return f.dropped.Load() }

// Failed returns the number of forwarded writes the controller did not accept.
func (f *Forwarder) Failed() uint64 { return f.failed.Load() }
