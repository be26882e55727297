package mount

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned for axis, direction and step count
// violations. It always indicates a caller bug and is never retried.
var ErrInvalidArgument = errors.New("invalid argument")

type Axis int

const (
	// Primary is the body axis (right ascension / hour angle).
	Primary Axis = iota
	// Secondary is the mirror axis (declination / altitude).
	Secondary
)

// Axes lists every axis in protocol order.
var Axes = []Axis{Primary, Secondary}

func (a Axis) Valid() bool {
	return a == Primary || a == Secondary
}

func (a Axis) String() string {
	switch a {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

type Direction int

const (
	Clockwise Direction = iota
	AntiClockwise
)

func (d Direction) Valid() bool {
	return d == Clockwise || d == AntiClockwise
}

func (d Direction) String() string {
	switch d {
	case Clockwise:
		return "clockwise"
	case AntiClockwise:
		return "anticlockwise"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// DirectionOf returns the direction that moves an axis by delta.
// Positive deltas turn clockwise.
func DirectionOf(delta float64) Direction {
	if delta < 0 {
		return AntiClockwise
	}
	return Clockwise
}

// Hardware describes the fixed mechanical ratios of one axis drive.
type Hardware struct {
	// MotorStepDeg is the full step angle of the motor in degrees.
	MotorStepDeg float64
	// MicroSteps is the number of microsteps per full motor step.
	MicroSteps float64
	GearboxRatio float64
	// GearRatio is the final reduction between gearbox and axis. The
	// encoder sits before it.
	GearRatio float64
	// EncoderTicksPerRev is counted per encoder shaft revolution.
	EncoderTicksPerRev float64
}

func DefaultHardware() Hardware {
	return Hardware{
		MotorStepDeg:       1.8,
		MicroSteps:         16,
		GearboxRatio:       250,
		GearRatio:          6,
		EncoderTicksPerRev: 10000,
	}
}

// Calibration holds the constants derived from Hardware.
type Calibration struct {
	StepsPerEncoderTick   float64
	SecondsPerStep        float64
	ArcsecPerStep         float64
	SecondsPerEncoderTick float64
	ArcsecPerEncoderTick  float64
	SlipFactor            float64
}

const (
	// ArcsecPerDegree converts latitude/longitude style degrees to arcseconds.
	ArcsecPerDegree = 60 * 60
	// ArcsecPerSecond is the rate of the hour angle: one revolution per day.
	ArcsecPerSecond = arcsecPerCircle / secondsPerDay

	secondsPerDay    = 24 * 60 * 60
	arcsecPerCircle  = 360 * ArcsecPerDegree
	slipFactorScale  = 10
	quarterTickSteps = 4
)

func (h Hardware) Calibration() (Calibration, error) {
	for name, v := range map[string]float64{
		"motor step angle":      h.MotorStepDeg,
		"microsteps":            h.MicroSteps,
		"gearbox ratio":         h.GearboxRatio,
		"gear ratio":            h.GearRatio,
		"encoder ticks per rev": h.EncoderTicksPerRev,
	} {
		if !(v > 0) {
			return Calibration{}, fmt.Errorf("%s must be > 0, got %v: %w", name, v, ErrInvalidArgument)
		}
	}
	stepSize := (h.MotorStepDeg / h.MicroSteps) / h.GearboxRatio
	stepsPerRev := (360 / stepSize) * h.GearRatio
	encPerRev := h.EncoderTicksPerRev * h.GearRatio

	c := Calibration{
		StepsPerEncoderTick: stepsPerRev / encPerRev,
		SecondsPerStep:      secondsPerDay / stepsPerRev,
		ArcsecPerStep:       arcsecPerCircle / stepsPerRev,
	}
	c.SecondsPerEncoderTick = c.SecondsPerStep * c.StepsPerEncoderTick
	c.ArcsecPerEncoderTick = c.ArcsecPerStep * c.StepsPerEncoderTick
	c.SlipFactor = c.StepsPerEncoderTick / slipFactorScale
	return c, nil
}

// DefaultCalibration is the calibration of DefaultHardware.
func DefaultCalibration() Calibration {
	c, err := DefaultHardware().Calibration()
	if err != nil {
		panic(err)
	}
	return c
}

func (c Calibration) ArcsecToTicks(arcsec float64) float64 {
	return arcsec / c.ArcsecPerEncoderTick
}

func (c Calibration) TicksToArcsec(ticks float64) float64 {
	return ticks * c.ArcsecPerEncoderTick
}

func (c Calibration) SecondsToTicks(seconds float64) float64 {
	return seconds / c.SecondsPerEncoderTick
}

func (c Calibration) TicksToSteps(ticks float64) float64 {
	return ticks * c.StepsPerEncoderTick
}

// MinSteps is the smallest turn that still guarantees progress on a slew.
func (c Calibration) MinSteps() float64 {
	return c.StepsPerEncoderTick / quarterTickSteps
}
