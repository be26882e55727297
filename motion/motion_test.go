package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/solar_interface/device"
	"github.com/w1xm/solar_interface/device/simulator"
	"github.com/w1xm/solar_interface/mount"
)

// fakeDevice moves the encoder by exactly the commanded steps.
type fakeDevice struct {
	cal    mount.Calibration
	steps  [2]float64
	stuck  bool
	turns  int
	reads  int
	resets int
}

func (f *fakeDevice) count(axis mount.Axis) int64 {
	return int64(math.Floor(f.steps[axis] / f.cal.StepsPerEncoderTick))
}

func (f *fakeDevice) Turn(axis mount.Axis, dir mount.Direction, steps int) (int64, error) {
	f.turns++
	if !f.stuck {
		if dir == mount.AntiClockwise {
			steps = -steps
		}
		f.steps[axis] += float64(steps)
	}
	return f.count(axis), nil
}

func (f *fakeDevice) Encoder(axis mount.Axis) (int64, error) {
	f.reads++
	return f.count(axis), nil
}

func (f *fakeDevice) Reset() error {
	f.resets++
	f.steps = [2]float64{}
	return nil
}

func newFake() (*Controller, *fakeDevice) {
	cal := mount.DefaultCalibration()
	dev := &fakeDevice{cal: cal}
	return New(dev, cal), dev
}

func TestRawTurn(t *testing.T) {
	for _, steps := range []int{1, 80, 19999} {
		c, dev := newFake()
		got, err := c.RawTurn(mount.Primary, mount.Clockwise, steps)
		if err != nil {
			t.Fatalf("RawTurn(%d): %v", steps, err)
		}
		if want := int64(steps / 80); got != want {
			t.Errorf("RawTurn(%d) = %d, want %d", steps, got, want)
		}
		if dev.turns != 1 || dev.reads != 1 {
			t.Errorf("RawTurn(%d): %d turns and %d reads, want 1 and 1", steps, dev.turns, dev.reads)
		}
	}
}

func TestRawTurnAnticlockwise(t *testing.T) {
	c, _ := newFake()
	got, err := c.RawTurn(mount.Secondary, mount.AntiClockwise, 800)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10 {
		t.Errorf("RawTurn = %d, want 10", got)
	}
}

func TestRawTurnInvalid(t *testing.T) {
	for _, test := range []struct {
		axis  mount.Axis
		dir   mount.Direction
		steps int
	}{
		{mount.Primary, mount.Clockwise, 0},
		{mount.Primary, mount.Clockwise, -1},
		{mount.Primary, mount.Clockwise, 20000},
		{mount.Axis(2), mount.Clockwise, 10},
		{mount.Primary, mount.Direction(5), 10},
	} {
		t.Run(fmt.Sprintf("%v/%v/%d", test.axis, test.dir, test.steps), func(t *testing.T) {
			c, dev := newFake()
			if _, err := c.RawTurn(test.axis, test.dir, test.steps); !errors.Is(err, mount.ErrInvalidArgument) {
				t.Errorf("RawTurn = %v, want ErrInvalidArgument", err)
			}
			if _, err := c.Turn(test.axis, test.dir, test.steps); !errors.Is(err, mount.ErrInvalidArgument) {
				t.Errorf("Turn = %v, want ErrInvalidArgument", err)
			}
			if dev.turns != 0 || dev.reads != 0 {
				t.Errorf("device was used: %d turns, %d reads", dev.turns, dev.reads)
			}
		})
	}
}

func TestTurnUntil(t *testing.T) {
	for _, target := range []float64{0.1, 1, 200, 5000} {
		t.Run(fmt.Sprint(target), func(t *testing.T) {
			c, dev := newFake()
			var progress []float64
			c.Progress = func(axis mount.Axis, achieved float64) {
				if axis != mount.Primary {
					t.Errorf("progress for %v", axis)
				}
				progress = append(progress, achieved)
			}
			if err := c.TurnUntil(mount.Primary, mount.Clockwise, target); err != nil {
				t.Fatal(err)
			}
			got := float64(dev.count(mount.Primary))
			if got < target || got >= target+1 {
				t.Errorf("moved %v ticks, want [%v, %v)", got, target, target+1)
			}
			if len(progress) != dev.turns {
				t.Errorf("%d progress calls for %d turns", len(progress), dev.turns)
			}
			if last := progress[len(progress)-1]; math.Abs(last-got) > 1e-9 {
				t.Errorf("last progress %v, want %v", last, got)
			}
		})
	}
}

func TestTurnUntilNothingToDo(t *testing.T) {
	for _, target := range []float64{0, -5} {
		c, dev := newFake()
		if err := c.TurnUntil(mount.Primary, mount.Clockwise, target); err != nil {
			t.Fatal(err)
		}
		if dev.turns != 0 {
			t.Errorf("TurnUntil(%v) issued %d turns", target, dev.turns)
		}
	}
	c, _ := newFake()
	if err := c.TurnUntil(mount.Primary, mount.Clockwise, math.NaN()); !errors.Is(err, mount.ErrInvalidArgument) {
		t.Errorf("TurnUntil(NaN) = %v", err)
	}
}

func TestTurnUntilChunks(t *testing.T) {
	c, dev := newFake()
	c.MaxChunkTicks = 10
	if err := c.TurnUntil(mount.Primary, mount.Clockwise, 100); err != nil {
		t.Fatal(err)
	}
	// 100 ticks in chunks of at most 10 needs at least 10 turns.
	if dev.turns < 10 {
		t.Errorf("%d turns, want at least 10", dev.turns)
	}
}

func TestTurnUntilStalled(t *testing.T) {
	c, dev := newFake()
	dev.stuck = true
	c.MaxStalls = 5
	err := c.TurnUntil(mount.Secondary, mount.Clockwise, 10)
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("TurnUntil = %v, want ErrStalled", err)
	}
	if dev.turns != 5 {
		t.Errorf("%d turns, want 5", dev.turns)
	}
}

func TestAdjustAxis(t *testing.T) {
	for _, test := range []struct {
		arcsec float64
		want   int64
	}{
		{2160, 100},
		{-2160, -100},
		{21.6, 1},
		{0, 0},
	} {
		c, dev := newFake()
		if err := c.AdjustAxis(mount.Secondary, test.arcsec); err != nil {
			t.Fatal(err)
		}
		if got := dev.count(mount.Secondary); got != test.want {
			t.Errorf("AdjustAxis(%v) moved to %d, want %d", test.arcsec, got, test.want)
		}
		if got := dev.count(mount.Primary); got != 0 {
			t.Errorf("AdjustAxis(%v) moved primary to %d", test.arcsec, got)
		}
	}
}

func TestResetAndPosition(t *testing.T) {
	c, dev := newFake()
	if err := c.AdjustAxis(mount.Primary, 216); err != nil {
		t.Fatal(err)
	}
	if n, err := c.CurrentPosition(mount.Primary); err != nil || n != 10 {
		t.Errorf("CurrentPosition = %d, %v; want 10", n, err)
	}
	if err := c.ResetZero(); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.CurrentPosition(mount.Primary); n != 0 || dev.resets != 1 {
		t.Errorf("after reset: position %d, %d resets", n, dev.resets)
	}
	if _, err := c.CurrentPosition(mount.Axis(9)); !errors.Is(err, mount.ErrInvalidArgument) {
		t.Errorf("CurrentPosition(9) = %v", err)
	}
}

func TestWithSimulator(t *testing.T) {
	cal := mount.DefaultCalibration()
	sim, conn := simulator.New(cal, device.DefaultAxisCodes)
	sim.SlipRatio = 0.3
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sim.Run(ctx)
	dev := device.New(conn, device.DefaultAxisCodes)
	defer dev.Close()

	c := New(dev, cal)
	if err := c.AdjustAxis(mount.Primary, -1000*cal.ArcsecPerEncoderTick); err != nil {
		t.Fatal(err)
	}
	if got := sim.Count(mount.Primary); got != -1000 {
		t.Errorf("simulator at %d, want -1000", got)
	}
	cmds := sim.Commands()
	if diff := cmp.Diff("E0", cmds[0]); diff != "" {
		t.Errorf("first command: want(-)/got(+):\n%s", diff)
	}
}
