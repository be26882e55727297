// Package power drives the Modbus relay that energises the mount's motor
// drivers.
package power

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	imodbus "github.com/w1xm/solar_interface/internal/modbus"
)

const (
	enableCoil     = 0
	contactorInput = 0
	pollInterval   = 500 * time.Millisecond
)

type Status struct {
	// Commanded is the state of the enable coil.
	Commanded bool `json:"commanded"`
	// Energised reports the contactor feedback input.
	Energised bool `json:"energised"`
}

type StatusCallback func(status Status)

type Relay struct {
	statusCallback StatusCallback
	mu             sync.Mutex
	client         modbus.Client
	status         Status
	polled         bool
}

// Connect starts polling the relay on port. It returns immediately; the
// port is opened and reopened in the background until ctx is done.
func Connect(ctx context.Context, port string, baud int, slaveID byte, statusCallback StatusCallback) (*Relay, error) {
	c := &imodbus.Client{
		Port:         port,
		BaudRate:     baud,
		SlaveId:      slaveID,
		PollInterval: pollInterval,
	}
	r := newRelay(c, statusCallback)
	c.Poll = r.pollOnce
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func newRelay(client modbus.Client, statusCallback StatusCallback) *Relay {
	return &Relay{client: client, statusCallback: statusCallback}
}

func (r *Relay) pollOnce() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	coils, err := r.client.ReadCoils(enableCoil, 1)
	if err != nil {
		return fmt.Errorf("read coils: %w", err)
	}
	inputs, err := r.client.ReadDiscreteInputs(contactorInput, 1)
	if err != nil {
		return fmt.Errorf("read discrete inputs: %w", err)
	}
	status := Status{
		Commanded: bitAt(coils, 0),
		Energised: bitAt(inputs, 0),
	}
	changed := !r.polled || status != r.status
	r.status, r.polled = status, true
	if changed && r.statusCallback != nil {
		r.statusCallback(status)
	}
	return nil
}

func bitAt(bs []byte, i int) bool {
	bits := imodbus.BytesToBits(bs)
	return i < len(bits) && bits[i]
}

// Status returns the last polled state.
func (r *Relay) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Relay) SetEnabled(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := imodbus.WriteCoil(r.client, enableCoil, enabled); err != nil {
		return fmt.Errorf("set motor power %v: %w", enabled, err)
	}
	return nil
}
