package sensors

import (
	"context"
	"strings"
	"time"

	"github.com/oshokin/alarm-central/internal/logger"
)

// Target receives sensor transitions; the node agent satisfies it.
type Target interface {
	Trigger(ctx context.Context, sensorID string) error
	Restore(ctx context.Context, sensorID string) error
}

// Input binds one sensor to a physical pin.
type Input struct {
	// SensorID is the sensor the pin drives.
	SensorID string
	// Pin is the periph registry pin name.
	Pin string
	// Mode is the circuit mode: "NC" (normally closed, low means tripped)
	// or "NO" (normally open, high means tripped). Defaults to NO.
	Mode string
}

// triggered interprets the raw pin level according to the circuit mode.
func (i Input) triggered(level bool) bool {
	if strings.ToUpper(i.Mode) == "NC" {
		return !level
	}

	return level
}

// Poller samples pins on a fixed tick and reports edges to the target.
type Poller struct {
	// reader provides pin levels.
	reader PinReader
	// target receives trigger/restore transitions.
	target Target
	// inputs are the monitored pins.
	inputs []Input
	// interval is the sampling tick.
	interval time.Duration
	// last remembers the previous triggered interpretation per sensor.
	last map[string]bool
}

// NewPoller creates a poller over the provided inputs.
func NewPoller(reader PinReader, target Target, inputs []Input, interval time.Duration) *Poller {
	return &Poller{
		reader:   reader,
		target:   target,
		inputs:   inputs,
		interval: interval,
		last:     make(map[string]bool, len(inputs)),
	}
}

// Run samples until the context is canceled. Read failures are logged and
// the pin keeps its previous interpretation; a flaky line must not
// generate phantom transitions.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sample(ctx)
		}
	}
}

// sample reads every input once and reports edges.
func (p *Poller) sample(ctx context.Context) {
	for _, input := range p.inputs {
		level, err := p.reader.Read(input.Pin)
		if err != nil {
			logger.WarnKV(ctx, "Sensor pin read failed", "sensor_id", input.SensorID, "pin", input.Pin, "error", err)

			continue
		}

		triggered := input.triggered(level)
		previous, seen := p.last[input.SensorID]
		p.last[input.SensorID] = triggered

		// The first sample primes the state; only an already-tripped line
		// is worth reporting. Afterwards only edges are reported.
		if seen && previous == triggered {
			continue
		}

		if !seen && !triggered {
			continue
		}

		if triggered {
			if err = p.target.Trigger(ctx, input.SensorID); err != nil {
				logger.Warnf(ctx, "Failed to report trigger of %s: %v", input.SensorID, err)
			}
		} else {
			if err = p.target.Restore(ctx, input.SensorID); err != nil {
				logger.Warnf(ctx, "Failed to report restore of %s: %v", input.SensorID, err)
			}
		}
	}
}
