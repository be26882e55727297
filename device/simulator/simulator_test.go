package simulator

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/solar_interface/device"
	"github.com/w1xm/solar_interface/mount"
)

func start(t *testing.T, slip float64) (*Simulator, *device.Channel) {
	t.Helper()
	sim, conn := New(mount.DefaultCalibration(), device.DefaultAxisCodes)
	sim.SlipRatio = slip
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sim.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})
	return sim, device.New(conn, device.DefaultAxisCodes)
}

func TestTurn(t *testing.T) {
	for _, test := range []struct {
		slip  float64
		dir   mount.Direction
		steps int
		want  int64
	}{
		{0, mount.Clockwise, 80, 1},
		{0, mount.Clockwise, 79, 0},
		{0, mount.Clockwise, 8000, 100},
		{0, mount.AntiClockwise, 80, -1},
		// Partial ticks round towards negative infinity.
		{0, mount.AntiClockwise, 1, -1},
		{0.5, mount.Clockwise, 8000, 50},
	} {
		t.Run(fmt.Sprintf("%v/%v/%d", test.slip, test.dir, test.steps), func(t *testing.T) {
			sim, c := start(t, test.slip)
			got, err := c.Turn(mount.Primary, test.dir, test.steps)
			if err != nil {
				t.Fatal(err)
			}
			if got != test.want {
				t.Errorf("Turn = %d, want %d", got, test.want)
			}
			if sim.Count(mount.Primary) != got {
				t.Errorf("Count = %d, reply was %d", sim.Count(mount.Primary), got)
			}
			if n := sim.Count(mount.Secondary); n != 0 {
				t.Errorf("secondary moved to %d", n)
			}
		})
	}
}

func TestSession(t *testing.T) {
	sim, c := start(t, 0)
	if _, err := c.Turn(mount.Secondary, mount.Clockwise, 800); err != nil {
		t.Fatal(err)
	}
	if n, err := c.Encoder(mount.Secondary); err != nil || n != 10 {
		t.Fatalf("Encoder = %d, %v; want 10", n, err)
	}
	// Garbage is ignored without a reply.
	if err := c.SendCommand("Q"); err != nil {
		t.Fatal(err)
	}
	if err := c.Reset(); err != nil {
		t.Fatal(err)
	}
	if n, err := c.Encoder(mount.Secondary); err != nil || n != 0 {
		t.Fatalf("Encoder after reset = %d, %v; want 0", n, err)
	}
	want := []string{"T1C800", "E1", "R", "E1"}
	if diff := cmp.Diff(want, sim.Commands()); diff != "" {
		t.Errorf("unexpected commands: want(-)/got(+):\n%s", diff)
	}
}

func TestLegacyCodes(t *testing.T) {
	sim, conn := New(mount.DefaultCalibration(), device.LegacyAxisCodes)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sim.Run(ctx)
	c := device.New(conn, device.LegacyAxisCodes)
	defer c.Close()
	if n, err := c.Turn(mount.Secondary, mount.AntiClockwise, 160); err != nil || n != -2 {
		t.Fatalf("Turn = %d, %v; want -2", n, err)
	}
	if sim.Count(mount.Primary) != 0 {
		t.Error("wrong axis moved")
	}
}

func TestRunEndsWhenHostDisconnects(t *testing.T) {
	sim, conn := New(mount.DefaultCalibration(), device.DefaultAxisCodes)
	errc := make(chan error, 1)
	go func() { errc <- sim.Run(context.Background()) }()
	conn.Close()
	if err := <-errc; err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}
