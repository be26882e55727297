// Package worker owns the motor controller and serializes every motion
// request through a single goroutine.
//
// Callers talk to it through a Manager, which queues Commands and caches the
// Responses the Worker sends back.
package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/w1xm/solar_interface/motion"
	"github.com/w1xm/solar_interface/mount"
	"github.com/w1xm/solar_interface/sun"
	"github.com/w1xm/solar_interface/tracking"
)

// Device is a motor controller the Worker takes ownership of.
type Device interface {
	motion.Device
	io.Closer
}

// State is the telescope state shared between Worker and Manager.
type State struct {
	PositionPrimary   float64      `json:"position_primary"`
	PositionSecondary float64      `json:"position_secondary"`
	Latitude          float64      `json:"latitude"`
	Longitude         float64      `json:"longitude"`
	FineTune          sun.Position `json:"fine_tune"`
	Tracking          bool         `json:"tracking"`
}

func (s *State) Position(axis mount.Axis) float64 {
	if axis == mount.Secondary {
		return s.PositionSecondary
	}
	return s.PositionPrimary
}

func (s *State) SetPosition(axis mount.Axis, arcsec float64) {
	if axis == mount.Secondary {
		s.PositionSecondary = arcsec
	} else {
		s.PositionPrimary = arcsec
	}
}

type Config struct {
	Calibration mount.Calibration
	// Source defaults to sun.MeanSolar.
	Source sun.Source
	// State is restored at startup.
	State State
	// TickInterval is the tracking loop period.
	TickInterval time.Duration

	// Zero values keep the motion package defaults.
	MaxChunkTicks   float64
	OvershootFactor float64
	MaxStalls       int

	// Now is used for tests.
	Now func() time.Time
}

const DefaultTickInterval = 100 * time.Millisecond

type mode int

const (
	idle mode = iota
	slewing
	trackingMode
	terminated
)

func (m mode) String() string {
	switch m {
	case idle:
		return "idle"
	case slewing:
		return "slewing"
	case trackingMode:
		return "tracking"
	case terminated:
		return "terminated"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

type Worker struct {
	dev      Device
	cal      mount.Calibration
	motion   *motion.Controller
	tracker  *tracking.Tracker
	source   sun.Source
	now      func() time.Time
	interval time.Duration

	commands  *queue[Command]
	responses *queue[Response]

	mode  mode
	state State
}

func NewWorker(dev Device, cfg Config) *Worker {
	if cfg.Calibration.StepsPerEncoderTick == 0 {
		cfg.Calibration = mount.DefaultCalibration()
	}
	if cfg.Source == nil {
		cfg.Source = sun.MeanSolar{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	mc := motion.New(dev, cfg.Calibration)
	if cfg.MaxChunkTicks > 0 {
		mc.MaxChunkTicks = cfg.MaxChunkTicks
	}
	if cfg.OvershootFactor > 0 {
		mc.OvershootFactor = cfg.OvershootFactor
	}
	if cfg.MaxStalls > 0 {
		mc.MaxStalls = cfg.MaxStalls
	}
	tr := tracking.New(mc, cfg.Calibration)
	tr.Now = cfg.Now
	state := cfg.State
	state.Tracking = false
	return &Worker{
		dev:       dev,
		cal:       cfg.Calibration,
		motion:    mc,
		tracker:   tr,
		source:    cfg.Source,
		now:       cfg.Now,
		interval:  cfg.TickInterval,
		commands:  newQueue[Command](),
		responses: newQueue[Response](),
		state:     state,
	}
}

// Run processes commands until Terminate, a fatal device error or ctx is
// done. The device is closed on return.
func (w *Worker) Run(ctx context.Context) error {
	defer w.dev.Close()
	motion.LogConstants(w.cal)
	for w.mode != terminated {
		var err error
		if w.mode == trackingMode {
			err = w.track(ctx)
		} else {
			var cmd Command
			cmd, err = w.commands.Pop(ctx)
			if err == nil {
				err = w.handle(ctx, cmd)
			}
		}
		if err != nil {
			log.Printf("worker stopping while %v: %v", w.mode, err)
			return err
		}
	}
	log.Printf("worker terminated")
	return nil
}

func (w *Worker) emit(r Response) {
	w.responses.Push(r)
}

func (w *Worker) target() sun.Position {
	return w.source.Position(w.now(), w.state.Latitude, w.state.Longitude).Add(w.state.FineTune)
}

func (w *Worker) handle(ctx context.Context, cmd Command) error {
	switch cmd := cmd.(type) {
	case SlewAxis:
		if w.mode == trackingMode {
			log.Printf("ignoring slew of %v while tracking", cmd.Axis)
			w.emit(SlewFinished{})
			return nil
		}
		w.mode = slewing
		defer func() { w.mode = idle }()
		if err := w.adjust(cmd.Axis, cmd.Arcsec); err != nil {
			return err
		}
		w.emit(SlewFinished{})
	case SlewToTarget:
		if w.mode == trackingMode {
			log.Printf("ignoring slew to target while tracking")
			w.emit(SlewFinished{})
			return nil
		}
		w.mode = slewing
		defer func() { w.mode = idle }()
		if err := w.slewToTarget(ctx); err != nil {
			return err
		}
		w.emit(SlewFinished{})
	case SetLatitude:
		if w.mode == trackingMode {
			log.Printf("ignoring latitude change while tracking")
			return nil
		}
		w.state.Latitude = cmd.Degrees
	case SetLongitude:
		if w.mode == trackingMode {
			log.Printf("ignoring longitude change while tracking")
			return nil
		}
		w.state.Longitude = cmd.Degrees
	case SetPosition:
		w.setPosition(cmd.Axis, cmd.Arcsec)
		if w.mode == trackingMode && cmd.Axis == mount.Primary {
			return w.tracker.Start(cmd.Arcsec)
		}
	case FineTune:
		w.state.FineTune = sun.Position{Primary: cmd.Primary, Secondary: cmd.Secondary}
		w.tracker.Retarget()
	case SetZero:
		log.Printf("setting as zero")
		return w.reset(sun.Position{})
	case SetToTarget:
		target := w.target()
		log.Printf("setting as target %s %s", mount.FormatAngle(target.Primary), mount.FormatAngle(target.Secondary))
		return w.reset(target)
	case StartTracking:
		if w.mode == trackingMode {
			return nil
		}
		if err := w.tracker.Start(w.state.PositionPrimary); err != nil {
			return err
		}
		log.Printf("tracking started")
		w.mode = trackingMode
		w.state.Tracking = true
	case CancelTracking:
		if w.mode == trackingMode {
			log.Printf("tracking cancelled")
			w.mode = idle
			w.state.Tracking = false
		}
	case Terminate:
		w.mode = terminated
		w.state.Tracking = false
	default:
		return fmt.Errorf("unknown command %T", cmd)
	}
	return nil
}

func (w *Worker) setPosition(axis mount.Axis, arcsec float64) {
	w.state.SetPosition(axis, arcsec)
	w.emit(PositionUpdate{Axis: axis, Arcsec: arcsec})
}

// adjust moves axis by delta arcseconds, reporting progress as it goes.
func (w *Worker) adjust(axis mount.Axis, delta float64) error {
	start := w.state.Position(axis)
	sign := 1.0
	if delta < 0 {
		sign = -1
	}
	w.motion.Progress = func(axis mount.Axis, achieved float64) {
		w.emit(PositionUpdate{Axis: axis, Arcsec: start + sign*w.cal.TicksToArcsec(achieved)})
	}
	defer func() { w.motion.Progress = nil }()
	if err := w.motion.AdjustAxis(axis, delta); err != nil {
		return fmt.Errorf("slewing %v by %s: %w", axis, mount.FormatAngle(delta), err)
	}
	w.setPosition(axis, start+delta)
	return nil
}

func (w *Worker) slewToTarget(ctx context.Context) error {
	target := w.target()
	log.Printf("target at %s %s", mount.FormatAngle(target.Primary), mount.FormatAngle(target.Secondary))
	if err := w.adjust(mount.Secondary, target.Secondary-w.state.PositionSecondary); err != nil {
		return err
	}
	// The target keeps moving while we slew, so catch up until close enough.
	for {
		gap := target.Primary - w.state.PositionPrimary
		if math.Abs(gap) <= 2*w.cal.ArcsecPerEncoderTick {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.adjust(mount.Primary, gap); err != nil {
			return err
		}
		target = w.target()
	}
}

func (w *Worker) reset(position sun.Position) error {
	if err := w.motion.ResetZero(); err != nil {
		return err
	}
	w.setPosition(mount.Primary, position.Primary)
	w.setPosition(mount.Secondary, position.Secondary)
	if w.mode == trackingMode {
		return w.tracker.Start(position.Primary)
	}
	return nil
}

// track runs one cycle of the tracking loop.
func (w *Worker) track(ctx context.Context) error {
	for w.mode == trackingMode {
		cmd, ok := w.commands.TryPop()
		if !ok {
			break
		}
		if err := w.handle(ctx, cmd); err != nil {
			return err
		}
	}
	if w.mode != trackingMode {
		return nil
	}
	target := w.target()
	u, err := w.tracker.Tick(target.Primary)
	if err != nil {
		return fmt.Errorf("tracking: %w", err)
	}
	if u.Moved {
		w.setPosition(mount.Primary, u.Position)
	}
	if gap := target.Secondary - w.state.PositionSecondary; math.Abs(gap) > w.cal.ArcsecPerEncoderTick {
		if err := w.adjust(mount.Secondary, gap); err != nil {
			return err
		}
	}
	return w.commands.Wait(ctx, w.interval)
}
