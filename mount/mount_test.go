package mount

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDefaultCalibration(t *testing.T) {
	got := DefaultCalibration()
	want := Calibration{
		StepsPerEncoderTick:   80,
		SecondsPerStep:        0.018,
		ArcsecPerStep:         0.27,
		SecondsPerEncoderTick: 1.44,
		ArcsecPerEncoderTick:  21.6,
		SlipFactor:            8,
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("unexpected calibration: want(-)/got(+):\n%s", diff)
	}
	// The time axis and the arc axis are the same rotation.
	if r := got.ArcsecPerEncoderTick / got.SecondsPerEncoderTick; math.Abs(r-ArcsecPerSecond) > 1e-9 {
		t.Errorf("arcsec/sec ratio = %v, want %v", r, ArcsecPerSecond)
	}
}

func TestCalibrationRejectsBadHardware(t *testing.T) {
	for _, h := range []Hardware{
		{},
		{MotorStepDeg: 1.8, MicroSteps: 16, GearboxRatio: 250, GearRatio: 6},
		{MotorStepDeg: 1.8, MicroSteps: -16, GearboxRatio: 250, GearRatio: 6, EncoderTicksPerRev: 10000},
		{MotorStepDeg: math.NaN(), MicroSteps: 16, GearboxRatio: 250, GearRatio: 6, EncoderTicksPerRev: 10000},
	} {
		if _, err := h.Calibration(); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%+v: got %v, want ErrInvalidArgument", h, err)
		}
	}
}

func TestConversions(t *testing.T) {
	c := DefaultCalibration()
	for _, test := range []struct {
		name string
		got  float64
		want float64
	}{
		{"ArcsecToTicks", c.ArcsecToTicks(216), 10},
		{"TicksToArcsec", c.TicksToArcsec(-10), -216},
		{"SecondsToTicks", c.SecondsToTicks(14.4), 10},
		{"TicksToSteps", c.TicksToSteps(2.5), 200},
		{"MinSteps", c.MinSteps(), 20},
	} {
		if math.Abs(test.got-test.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", test.name, test.got, test.want)
		}
	}
}

func TestDirectionOf(t *testing.T) {
	for _, test := range []struct {
		delta float64
		want  Direction
	}{
		{1, Clockwise},
		{0, Clockwise},
		{-0.5, AntiClockwise},
	} {
		if got := DirectionOf(test.delta); got != test.want {
			t.Errorf("DirectionOf(%v) = %v, want %v", test.delta, got, test.want)
		}
	}
}

func TestValid(t *testing.T) {
	if !Primary.Valid() || !Secondary.Valid() || Axis(2).Valid() || Axis(-1).Valid() {
		t.Error("axis validity wrong")
	}
	if !Clockwise.Valid() || !AntiClockwise.Valid() || Direction(7).Valid() {
		t.Error("direction validity wrong")
	}
}
