// Package motion turns angular requests into bounded sequences of device
// turn commands, using the encoders as ground truth.
package motion

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/w1xm/solar_interface/mount"
)

// Device is the subset of the controller protocol motion needs.
type Device interface {
	Turn(axis mount.Axis, dir mount.Direction, steps int) (int64, error)
	Encoder(axis mount.Axis) (int64, error)
	Reset() error
}

// Limits on the microsteps in a single turn command.
const (
	MinSteps = 1
	MaxSteps = 19999
)

var ErrStalled = errors.New("axis stalled")

type Controller struct {
	// MaxChunkTicks bounds how far a single turn command may go.
	MaxChunkTicks float64
	// OvershootFactor scales down each request to allow for backlash.
	OvershootFactor float64
	// MaxStalls is the number of consecutive turns with no encoder movement
	// after which TurnUntil gives up. Zero disables the check.
	MaxStalls int
	// Progress is called after every chunk of a TurnUntil with the ticks
	// achieved so far.
	Progress func(axis mount.Axis, achieved float64)

	dev Device
	cal mount.Calibration
}

func New(dev Device, cal mount.Calibration) *Controller {
	return &Controller{
		MaxChunkTicks:   200,
		OvershootFactor: 0.7,
		MaxStalls:       50,
		dev:             dev,
		cal:             cal,
	}
}

func (c *Controller) Calibration() mount.Calibration {
	return c.cal
}

func checkTurn(axis mount.Axis, dir mount.Direction, steps int) error {
	if !axis.Valid() {
		return fmt.Errorf("axis %v: %w", axis, mount.ErrInvalidArgument)
	}
	if !dir.Valid() {
		return fmt.Errorf("direction %v: %w", dir, mount.ErrInvalidArgument)
	}
	if steps < MinSteps || steps > MaxSteps {
		return fmt.Errorf("%d steps not in [%d, %d]: %w", steps, MinSteps, MaxSteps, mount.ErrInvalidArgument)
	}
	return nil
}

// Turn issues a single turn command and returns the new encoder count.
func (c *Controller) Turn(axis mount.Axis, dir mount.Direction, steps int) (int64, error) {
	if err := checkTurn(axis, dir, steps); err != nil {
		return 0, err
	}
	return c.dev.Turn(axis, dir, steps)
}

// RawTurn turns axis and returns how many encoder ticks it actually moved.
func (c *Controller) RawTurn(axis mount.Axis, dir mount.Direction, steps int) (int64, error) {
	if err := checkTurn(axis, dir, steps); err != nil {
		return 0, err
	}
	before, err := c.dev.Encoder(axis)
	if err != nil {
		return 0, err
	}
	after, err := c.dev.Turn(axis, dir, steps)
	if err != nil {
		return 0, err
	}
	if after < before {
		return before - after, nil
	}
	return after - before, nil
}

// TurnUntil turns axis in chunks until the encoder has moved by at least
// target ticks.
func (c *Controller) TurnUntil(axis mount.Axis, dir mount.Direction, target float64) error {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return fmt.Errorf("target %v ticks: %w", target, mount.ErrInvalidArgument)
	}
	remaining := target
	stalls := 0
	for remaining > 0 {
		chunk := math.Min(c.MaxChunkTicks, remaining*c.OvershootFactor)
		steps := math.Max(chunk*c.cal.StepsPerEncoderTick, c.cal.MinSteps())
		achieved, err := c.RawTurn(axis, dir, int(math.Min(steps, MaxSteps)))
		if err != nil {
			return err
		}
		if achieved == 0 {
			stalls++
			if c.MaxStalls > 0 && stalls >= c.MaxStalls {
				return fmt.Errorf("%v %v: no movement after %d turns with %.1f ticks to go: %w", axis, dir, stalls, remaining, ErrStalled)
			}
		} else {
			stalls = 0
		}
		remaining -= float64(achieved)
		if c.Progress != nil {
			c.Progress(axis, target-remaining)
		}
	}
	return nil
}

// AdjustAxis moves axis by arcsec, clockwise for positive values.
func (c *Controller) AdjustAxis(axis mount.Axis, arcsec float64) error {
	if math.IsNaN(arcsec) || math.IsInf(arcsec, 0) {
		return fmt.Errorf("adjust by %v arcsec: %w", arcsec, mount.ErrInvalidArgument)
	}
	return c.TurnUntil(axis, mount.DirectionOf(arcsec), c.cal.ArcsecToTicks(math.Abs(arcsec)))
}

// ResetZero zeroes both encoders. Callers must zero their own positions.
func (c *Controller) ResetZero() error {
	return c.dev.Reset()
}

// CurrentPosition returns the encoder count of axis.
func (c *Controller) CurrentPosition(axis mount.Axis) (int64, error) {
	if !axis.Valid() {
		return 0, fmt.Errorf("axis %v: %w", axis, mount.ErrInvalidArgument)
	}
	return c.dev.Encoder(axis)
}

func LogConstants(cal mount.Calibration) {
	log.Printf("Motor steps per encoder tick: %v", cal.StepsPerEncoderTick)
	log.Printf("Seconds per motor step: %v", cal.SecondsPerStep)
	log.Printf("Arcsec per encoder tick: %v", cal.ArcsecPerEncoderTick)
	log.Printf("Seconds per encoder tick: %v", cal.SecondsPerEncoderTick)
	log.Printf("Slip factor: %v", cal.SlipFactor)
}
