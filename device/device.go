// Package device implements the line protocol spoken by the motor controller.
//
// Protocol (ASCII, newline terminated, one reply per request except R):
//
//	T<axis><C|A><steps>  turn an axis by microsteps, replies with the new encoder count
//	E<axis>              query the encoder count
//	R                    zero both encoders, no reply
package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tarm/serial"
	"github.com/w1xm/solar_interface/mount"
)

// Verbose enables logging of every line sent to and received from the controller.
var Verbose bool

// AxisCodes maps axes to the letter the controller firmware expects.
type AxisCodes struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
}

var (
	DefaultAxisCodes = AxisCodes{Primary: "0", Secondary: "1"}
	// LegacyAxisCodes are used by the older body/mirror firmware.
	LegacyAxisCodes = AxisCodes{Primary: "B", Secondary: "M"}
)

func (c AxisCodes) Validate() error {
	for _, code := range []string{c.Primary, c.Secondary} {
		if len(code) != 1 || code == "C" || code == "A" {
			return fmt.Errorf("axis code %q must be a single character other than C or A: %w", code, mount.ErrInvalidArgument)
		}
	}
	if c.Primary == c.Secondary {
		return fmt.Errorf("axis codes must differ, both are %q: %w", c.Primary, mount.ErrInvalidArgument)
	}
	return nil
}

func (c AxisCodes) Code(axis mount.Axis) (string, error) {
	switch axis {
	case mount.Primary:
		return c.Primary, nil
	case mount.Secondary:
		return c.Secondary, nil
	}
	return "", fmt.Errorf("axis %v: %w", axis, mount.ErrInvalidArgument)
}

// Axis is the reverse of Code.
func (c AxisCodes) Axis(code string) (mount.Axis, bool) {
	switch code {
	case c.Primary:
		return mount.Primary, true
	case c.Secondary:
		return mount.Secondary, true
	}
	return 0, false
}

func DirectionCode(d mount.Direction) (string, error) {
	switch d {
	case mount.Clockwise:
		return "C", nil
	case mount.AntiClockwise:
		return "A", nil
	}
	return "", fmt.Errorf("direction %v: %w", d, mount.ErrInvalidArgument)
}

// Channel is a connection to the motor controller. It is not safe for
// concurrent use; exactly one request may be in flight at a time.
type Channel struct {
	conn  io.ReadWriteCloser
	r     *bufio.Reader
	codes AxisCodes
}

// New wraps an established connection.
func New(conn io.ReadWriteCloser, codes AxisCodes) *Channel {
	return &Channel{
		conn:  conn,
		r:     bufio.NewReader(conn),
		codes: codes,
	}
}

const dialTimeout = 5 * time.Second

// Dial connects to endpoint, which is either tcp://host:port, serial://path
// or a bare serial device path.
func Dial(ctx context.Context, endpoint string, baud int, codes AxisCodes) (*Channel, error) {
	if err := codes.Validate(); err != nil {
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	var conn io.ReadWriteCloser
	switch {
	case strings.HasPrefix(endpoint, "tcp://"):
		dialer := &net.Dialer{
			Timeout: dialTimeout,
		}
		c, err := dialer.DialContext(ctx, "tcp", strings.TrimPrefix(endpoint, "tcp://"))
		if err != nil {
			return nil, &ConnectionError{Endpoint: endpoint, Err: err}
		}
		conn = c
	default:
		name := strings.TrimPrefix(endpoint, "serial://")
		if name == "" {
			return nil, &ConnectionError{Endpoint: endpoint, Err: errors.New("no serial device given")}
		}
		if baud <= 0 {
			baud = 9600
		}
		s, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
		if err != nil {
			return nil, &ConnectionError{Endpoint: endpoint, Err: err}
		}
		conn = s
	}
	log.Printf("opened %q", endpoint)
	return New(conn, codes), nil
}

func (c *Channel) Close() error {
	return c.conn.Close()
}

// SendCommand writes line followed by the line terminator.
func (c *Channel) SendCommand(line string) error {
	if Verbose {
		log.Printf("host->mcu: %s", line)
	}
	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

// ReadLine blocks until a full line has been received and returns it
// without surrounding whitespace.
func (c *Channel) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", &IOError{Op: "read", Err: err}
	}
	if !utf8.ValidString(line) {
		return "", &ProtocolError{Reply: line, Err: errors.New("reply is not valid text")}
	}
	line = strings.TrimSpace(line)
	if Verbose {
		log.Printf("mcu->host: %s", line)
	}
	return line, nil
}

func (c *Channel) readCount() (int64, error) {
	line, err := c.ReadLine()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, &ProtocolError{Reply: line, Err: err}
	}
	return n, nil
}

// Turn moves axis by steps microsteps and returns the new absolute encoder count.
func (c *Channel) Turn(axis mount.Axis, dir mount.Direction, steps int) (int64, error) {
	a, err := c.codes.Code(axis)
	if err != nil {
		return 0, err
	}
	d, err := DirectionCode(dir)
	if err != nil {
		return 0, err
	}
	if steps <= 0 {
		return 0, fmt.Errorf("turn of %d steps: %w", steps, mount.ErrInvalidArgument)
	}
	if err := c.SendCommand(fmt.Sprintf("T%s%s%d", a, d, steps)); err != nil {
		return 0, err
	}
	return c.readCount()
}

// Encoder returns the absolute encoder count of axis.
func (c *Channel) Encoder(axis mount.Axis) (int64, error) {
	a, err := c.codes.Code(axis)
	if err != nil {
		return 0, err
	}
	if err := c.SendCommand("E" + a); err != nil {
		return 0, err
	}
	return c.readCount()
}

// Reset zeroes both encoders. The controller does not reply.
func (c *Channel) Reset() error {
	return c.SendCommand("R")
}
