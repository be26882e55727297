package worker

import "github.com/w1xm/solar_interface/mount"

// Command is a request from the Manager to the Worker.
type Command interface {
	isCommand()
}

// SlewAxis moves one axis by Arcsec.
type SlewAxis struct {
	Axis   mount.Axis
	Arcsec float64
}

// SlewToTarget points the mount at the Sun plus the fine-tune offset.
type SlewToTarget struct{}

type SetLatitude struct {
	Degrees float64
}

type SetLongitude struct {
	Degrees float64
}

// SetPosition overrides the believed position of an axis without moving it.
type SetPosition struct {
	Axis   mount.Axis
	Arcsec float64
}

// FineTune sets the offset added to the Sun position, in arcseconds.
type FineTune struct {
	Primary   float64
	Secondary float64
}

// SetZero zeroes the encoders and both positions.
type SetZero struct{}

// SetToTarget zeroes the encoders and declares the mount to be pointing at the target.
type SetToTarget struct{}

type StartTracking struct{}

type CancelTracking struct{}

type Terminate struct{}

func (SlewAxis) isCommand()       {}
func (SlewToTarget) isCommand()   {}
func (SetLatitude) isCommand()    {}
func (SetLongitude) isCommand()   {}
func (SetPosition) isCommand()    {}
func (FineTune) isCommand()       {}
func (SetZero) isCommand()        {}
func (SetToTarget) isCommand()    {}
func (StartTracking) isCommand()  {}
func (CancelTracking) isCommand() {}
func (Terminate) isCommand()      {}

// Response is a message from the Worker to the Manager.
type Response interface {
	isResponse()
}

type PositionUpdate struct {
	Axis   mount.Axis
	Arcsec float64
}

// SlewFinished is sent exactly once for every SlewAxis and SlewToTarget.
type SlewFinished struct{}

func (PositionUpdate) isResponse() {}
func (SlewFinished) isResponse()   {}
