// Package simulator pretends to be the motor controller, for tests and for
// running without hardware.
package simulator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/w1xm/solar_interface/device"
	"github.com/w1xm/solar_interface/mount"
	"golang.org/x/sync/errgroup"
)

type Simulator struct {
	// SlipRatio is the fraction of commanded microsteps that never reach the encoder.
	SlipRatio float64
	// StepDelay is how long each microstep takes to execute.
	StepDelay time.Duration

	conn  io.ReadWriteCloser
	cal   mount.Calibration
	codes device.AxisCodes

	mu       sync.Mutex
	steps    [2]float64
	commands []string
}

// New returns a simulator and the controller end of its connection.
func New(cal mount.Calibration, codes device.AxisCodes) (*Simulator, net.Conn) {
	a, b := net.Pipe()
	return &Simulator{conn: a, cal: cal, codes: codes}, b
}

var (
	cmdRE  = regexp.MustCompile(`^([TER])(.*)$`)
	turnRE = regexp.MustCompile(`^(.)([CA])(\d+)$`)
)

func (s *Simulator) Run(ctx context.Context) error {
	defer s.conn.Close()
	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return s.reader()
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			s.conn.Close()
			return ctx.Err()
		case <-done:
			return nil
		}
	})
	return g.Wait()
}

func (s *Simulator) reader() error {
	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		input := scanner.Text()
		if device.Verbose {
			log.Printf("host->sim: %s", input)
		}
		if err := s.parseInput(input); err != nil {
			var re errReply
			if errors.As(err, &re) {
				return err
			}
			log.Printf("parsing %q: %v", input, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading port: %w", err)
	}
	return nil
}

// errReply marks failures writing back to the host, which end the session.
type errReply struct{ err error }

func (e errReply) Error() string { return e.err.Error() }

func (s *Simulator) parseInput(input string) error {
	parts := cmdRE.FindStringSubmatch(input)
	if parts == nil {
		return errors.New("unrecognized command")
	}
	s.mu.Lock()
	s.commands = append(s.commands, input)
	s.mu.Unlock()
	switch cmd, args := parts[1], parts[2]; cmd {
	case "R":
		if args != "" {
			return fmt.Errorf("unexpected arguments %q", args)
		}
		s.mu.Lock()
		s.steps = [2]float64{}
		s.mu.Unlock()
		return nil
	case "E":
		axis, ok := s.codes.Axis(args)
		if !ok {
			return fmt.Errorf("unknown axis %q", args)
		}
		return s.send(s.Count(axis))
	case "T":
		m := turnRE.FindStringSubmatch(args)
		if m == nil {
			return fmt.Errorf("malformed turn %q", args)
		}
		axis, ok := s.codes.Axis(m[1])
		if !ok {
			return fmt.Errorf("unknown axis %q", m[1])
		}
		n, err := strconv.Atoi(m[3])
		if err != nil {
			return err
		}
		if s.StepDelay > 0 {
			time.Sleep(time.Duration(n) * s.StepDelay)
		}
		moved := float64(n) * (1 - s.SlipRatio)
		if m[2] == "A" {
			moved = -moved
		}
		s.mu.Lock()
		s.steps[axis] += moved
		s.mu.Unlock()
		return s.send(s.Count(axis))
	}
	return nil
}

func (s *Simulator) send(count int64) error {
	if device.Verbose {
		log.Printf("sim->host: %d", count)
	}
	if _, err := fmt.Fprintf(s.conn, "%d\n", count); err != nil {
		return errReply{err}
	}
	return nil
}

// Count returns the encoder count of axis.
func (s *Simulator) Count(axis mount.Axis) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(math.Floor(s.steps[axis] / s.cal.StepsPerEncoderTick))
}

// Steps returns the microsteps axis has actually moved since the last reset.
func (s *Simulator) Steps(axis mount.Axis) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps[axis]
}

// Commands returns every well-formed line received so far.
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}
