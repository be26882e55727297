// Package tracking keeps one axis of the mount following a moving target.
//
// Each tick feeds forward the motor steps needed to cover the wall-clock
// time since the previous tick and corrects for slip observed on the
// encoder. When the axis is ahead of the clock no steps are issued until the
// clock catches up.
package tracking

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/w1xm/solar_interface/motion"
	"github.com/w1xm/solar_interface/mount"
)

// Mover is implemented by *motion.Controller.
type Mover interface {
	Turn(axis mount.Axis, dir mount.Direction, steps int) (int64, error)
	CurrentPosition(axis mount.Axis) (int64, error)
	AdjustAxis(axis mount.Axis, arcsec float64) error
}

var errNotStarted = errors.New("tracker not started")

// Update reports the outcome of one tick.
type Update struct {
	// Moved is set when the axis was commanded this tick.
	Moved bool
	// Position is the tracked axis position in arcseconds.
	Position float64
	// Steps is the number of microsteps issued by the feed-forward loop.
	Steps int
	// TickError is the number of encoder ticks the axis is behind the clock.
	TickError float64
}

type Tracker struct {
	Axis mount.Axis
	Now  func() time.Time

	m   Mover
	cal mount.Calibration

	started          bool
	converged        bool
	epoch            time.Time
	startCount       int64
	startPosition    float64
	position         float64
	ticksAchieved    int64
	timeAccountedFor float64
}

func New(m Mover, cal mount.Calibration) *Tracker {
	return &Tracker{
		Axis: mount.Primary,
		Now:  time.Now,
		m:    m,
		cal:  cal,
	}
}

// Start begins tracking from position, the current axis position in arcseconds.
func (t *Tracker) Start(position float64) error {
	t.converged = false
	return t.restart(t.Now(), position)
}

func (t *Tracker) restart(epoch time.Time, position float64) error {
	count, err := t.m.CurrentPosition(t.Axis)
	if err != nil {
		return fmt.Errorf("reading start position: %w", err)
	}
	t.started = true
	t.epoch = epoch
	t.startCount = count
	t.startPosition = position
	t.position = position
	t.ticksAchieved = 0
	t.timeAccountedFor = 0
	return nil
}

// Retarget makes the next tick slew again if the target has jumped.
func (t *Tracker) Retarget() {
	t.converged = false
}

func (t *Tracker) Position() float64 {
	return t.position
}

// Tick runs one iteration of the control loop towards target arcseconds.
func (t *Tracker) Tick(target float64) (Update, error) {
	if !t.started {
		return Update{}, errNotStarted
	}
	now := t.Now()
	if !t.converged {
		gap := target - t.position
		if math.Abs(gap) > t.cal.ArcsecPerEncoderTick {
			log.Printf("tracking: slewing %v by %s to catch up", t.Axis, mount.FormatAngle(gap))
			if err := t.m.AdjustAxis(t.Axis, gap); err != nil {
				return Update{}, err
			}
			// The target was computed at now, so the clock restarts there.
			if err := t.restart(now, target); err != nil {
				return Update{}, err
			}
			t.converged = true
			return Update{Moved: true, Position: target}, nil
		}
		t.converged = true
	}

	elapsed := now.Sub(t.epoch).Seconds()
	expected := math.Floor(elapsed / t.cal.SecondsPerEncoderTick)
	tickError := expected - float64(t.ticksAchieved)
	steps := (elapsed - t.timeAccountedFor) / t.cal.SecondsPerStep
	switch {
	case tickError > 1:
		steps += (tickError - 1) * t.cal.StepsPerEncoderTick
	case tickError > 0:
		steps += t.cal.SlipFactor
	case tickError < 0:
		steps = 0
	}
	t.timeAccountedFor = elapsed

	u := Update{Position: t.position, TickError: tickError}
	n := int(math.Min(steps, motion.MaxSteps))
	if n < motion.MinSteps {
		return u, nil
	}
	count, err := t.m.Turn(t.Axis, mount.Clockwise, n)
	if err != nil {
		return u, err
	}
	t.ticksAchieved = count - t.startCount
	t.position = t.startPosition + t.cal.TicksToArcsec(float64(t.ticksAchieved))
	u.Moved = true
	u.Position = t.position
	u.Steps = n
	return u, nil
}
