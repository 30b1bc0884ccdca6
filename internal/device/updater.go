package device

import (
	"context"
	"math/rand/v2"
	"time"
)

// RunUpdater drives one sensor's self-update loop until ctx is cancelled.
//
// Every Interval it asks the sensor for its next reading and applies it with
// SetAttributeFrom(SourceSensor, ...), the same path external writes take. A
// rejected or failed write is logged and the loop carries on.
//
// Parameters:
//   - ctx: Cancelling ctx stops the loop
//   - reg: Registry the sensor is registered in
//   - u: The sensor
//   - rng: Random source owned by this loop; nil seeds a fresh one
//
// Returns:
//   - error: Always nil. The signature fits errgroup.Group.Go.
func RunUpdater(ctx context.Context, reg *Registry, u Updater, rng *rand.Rand) error {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(len(u.Name()))))
	}

	ticker := time.NewTicker(u.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		attr, val := u.NextReading(rng)
		if err := reg.SetAttributeFrom(ctx, SourceSensor, u.Name(), attr, val); err != nil {
			reg.logger.Warn("sensor update rejected", "dev", u.Name(), "attr", attr, "error", err)
		}
	}
}

// Updaters returns the registered devices that produce their own readings.
func (r *Registry) Updaters() []Updater {
	var out []Updater
	for _, d := range r.Devices() {
		if u, ok := d.(Updater); ok {
			out = append(out, u)
		}
	}
	return out
}
