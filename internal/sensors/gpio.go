package sensors

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PinReader reads the logic level of a named input pin. It is the
// collaborator boundary for the line-signaling hardware.
type PinReader interface {
	Read(name string) (bool, error)
}

// hostInitOnce guards periph host initialization, which is idempotent but
// not free.
//
//nolint:gochecknoglobals // Host state is process-wide by nature.
var hostInitOnce sync.Once

// GPIOReader reads pins through periph. Pins are addressed by their
// registry names, e.g. "GPIO17".
type GPIOReader struct{}

// NewGPIOReader initializes the periph host drivers.
func NewGPIOReader() (*GPIOReader, error) {
	var err error

	hostInitOnce.Do(func() {
		_, err = host.Init()
	})

	if err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}

	return &GPIOReader{}, nil
}

// Read returns true when the pin is at a high logic level.
func (*GPIOReader) Read(name string) (bool, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return false, fmt.Errorf("unknown gpio pin %q", name)
	}

	return pin.Read() == gpio.High, nil
}
