package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/w1xm/solar_interface/mount"
	"github.com/w1xm/solar_interface/sun"
)

var (
	ErrStopped         = errors.New("worker has stopped")
	ErrShutdownTimeout = errors.New("worker did not stop in time")
)

// Manager is the caller's side of a Worker. It validates and queues
// commands, refuses the ones that conflict with a slew or tracking in
// progress, and keeps a cache of the state reported back by the Worker.
//
// Manager is safe for concurrent use.
type Manager struct {
	w         *Worker
	commands  *queue[Command]
	responses *queue[Response]
	cancel    context.CancelFunc
	done      chan struct{}
	err       error

	mu              sync.Mutex
	cache           State
	commandsRunning int
}

// NewManager starts a Worker that owns dev.
func NewManager(dev Device, cfg Config) *Manager {
	m := newManager(NewWorker(dev, cfg))
	m.start()
	return m
}

func newManager(w *Worker) *Manager {
	return &Manager{
		w:         w,
		commands:  w.commands,
		responses: w.responses,
		cancel:    func() {},
		done:      make(chan struct{}),
		cache:     w.state,
	}
}

func (m *Manager) start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go func() {
		defer close(m.done)
		m.err = m.w.Run(ctx)
	}()
}

// Done is closed when the worker exits.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Err returns the reason the worker exited, once Done is closed.
func (m *Manager) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

func (m *Manager) stopped() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func finite(name string, vs ...float64) error {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s %v: %w", name, v, mount.ErrInvalidArgument)
		}
	}
	return nil
}

func checkAxis(axis mount.Axis) error {
	if !axis.Valid() {
		return fmt.Errorf("axis %v: %w", axis, mount.ErrInvalidArgument)
	}
	return nil
}

// send queues cmd if the worker is still running. m.mu must be held.
func (m *Manager) send(cmd Command) error {
	if m.stopped() {
		return ErrStopped
	}
	m.commands.Push(cmd)
	return nil
}

// busy reports whether a slew is outstanding or tracking is on. m.mu must be held.
func (m *Manager) busy() bool {
	return m.commandsRunning > 0 || m.cache.Tracking
}

// SlewAxis moves one axis by arcsec. It is refused while busy.
func (m *Manager) SlewAxis(axis mount.Axis, arcsec float64) (bool, error) {
	if err := checkAxis(axis); err != nil {
		return false, err
	}
	if err := finite("slew", arcsec); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy() {
		return false, nil
	}
	if err := m.send(SlewAxis{Axis: axis, Arcsec: arcsec}); err != nil {
		return false, err
	}
	m.commandsRunning++
	return true, nil
}

// SlewToTarget points at the Sun. It is refused while busy.
func (m *Manager) SlewToTarget() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy() {
		return false, nil
	}
	if err := m.send(SlewToTarget{}); err != nil {
		return false, err
	}
	m.commandsRunning++
	return true, nil
}

// SlewTo moves both axes to the absolute position p.
func (m *Manager) SlewTo(p sun.Position) (bool, error) {
	if err := finite("slew", p.Primary, p.Secondary); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Deltas are relative to the latest reported position.
	m.flush()
	if m.busy() {
		return false, nil
	}
	for _, axis := range mount.Axes {
		if err := m.send(SlewAxis{Axis: axis, Arcsec: p.Axis(axis) - m.cache.Position(axis)}); err != nil {
			return false, err
		}
		m.commandsRunning++
	}
	return true, nil
}

// ReturnToZero slews both axes back to their zero positions.
func (m *Manager) ReturnToZero() (bool, error) {
	return m.SlewTo(sun.Position{})
}

func (m *Manager) SetLatitude(degrees float64) (bool, error) {
	if err := finite("latitude", degrees); err != nil {
		return false, err
	}
	if degrees < -90 || degrees > 90 {
		return false, fmt.Errorf("latitude %v out of range: %w", degrees, mount.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy() {
		return false, nil
	}
	if err := m.send(SetLatitude{Degrees: degrees}); err != nil {
		return false, err
	}
	m.cache.Latitude = degrees
	return true, nil
}

func (m *Manager) SetLongitude(degrees float64) (bool, error) {
	if err := finite("longitude", degrees); err != nil {
		return false, err
	}
	if degrees < -180 || degrees > 180 {
		return false, fmt.Errorf("longitude %v out of range: %w", degrees, mount.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy() {
		return false, nil
	}
	if err := m.send(SetLongitude{Degrees: degrees}); err != nil {
		return false, err
	}
	m.cache.Longitude = degrees
	return true, nil
}

// SetPosition declares the current position of axis without moving it.
func (m *Manager) SetPosition(axis mount.Axis, arcsec float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if err := finite("position", arcsec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.send(SetPosition{Axis: axis, Arcsec: arcsec}); err != nil {
		return err
	}
	m.cache.SetPosition(axis, arcsec)
	return nil
}

func (m *Manager) FineTune(primary, secondary float64) error {
	if err := finite("fine tune", primary, secondary); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.send(FineTune{Primary: primary, Secondary: secondary}); err != nil {
		return err
	}
	m.cache.FineTune.Primary = primary
	m.cache.FineTune.Secondary = secondary
	return nil
}

func (m *Manager) SetZero() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.send(SetZero{})
}

func (m *Manager) SetToTarget() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.send(SetToTarget{})
}

// StartTracking is refused while busy.
func (m *Manager) StartTracking() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy() {
		return false, nil
	}
	if err := m.send(StartTracking{}); err != nil {
		return false, err
	}
	m.cache.Tracking = true
	return true, nil
}

func (m *Manager) CancelTracking() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.send(CancelTracking{}); err != nil {
		return err
	}
	m.cache.Tracking = false
	return nil
}

// Flush applies every pending Response to the cache and reports whether
// anything was received.
func (m *Manager) Flush() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flush()
}

func (m *Manager) flush() bool {
	changed := false
	for {
		r, ok := m.responses.TryPop()
		if !ok {
			break
		}
		changed = true
		switch r := r.(type) {
		case PositionUpdate:
			m.cache.SetPosition(r.Axis, r.Arcsec)
		case SlewFinished:
			if m.commandsRunning > 0 {
				m.commandsRunning--
			}
		}
	}
	if m.stopped() && (m.cache.Tracking || m.commandsRunning > 0) {
		// Nothing more will arrive from a dead worker.
		m.cache.Tracking = false
		m.commandsRunning = 0
		changed = true
	}
	return changed
}

// Shutdown stops tracking, terminates the worker and waits up to timeout for
// it to exit. An in-flight device command is never interrupted.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.mu.Lock()
	if !m.stopped() {
		if m.cache.Tracking {
			m.commands.Push(CancelTracking{})
		}
		m.commands.Push(Terminate{})
	}
	m.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-m.done:
	case <-t.C:
		return ErrShutdownTimeout
	}
	m.cancel()
	m.Flush()
	if m.err != nil && !errors.Is(m.err, context.Canceled) {
		return m.err
	}
	return nil
}

// Status returns a snapshot of the cached state.
func (m *Manager) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache
}

func (m *Manager) PositionPrimary() float64 {
	return m.Status().PositionPrimary
}

func (m *Manager) PositionSecondary() float64 {
	return m.Status().PositionSecondary
}

func (m *Manager) Latitude() float64 {
	return m.Status().Latitude
}

func (m *Manager) Longitude() float64 {
	return m.Status().Longitude
}

func (m *Manager) Tracking() bool {
	return m.Status().Tracking
}

// CommandsRunning is the number of slews whose SlewFinished has not been flushed.
func (m *Manager) CommandsRunning() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commandsRunning
}
