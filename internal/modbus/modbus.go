// Package modbus wraps a Modbus RTU client with a reconnect loop.
package modbus

import (
	"context"
	"log"
	"time"

	"github.com/goburrow/modbus"
)

type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type Client struct {
	Port string
	// BaudRate defaults to 9600
	BaudRate int
	SlaveId  byte

	// Poll is called in a loop while the connection is open. An error
	// closes the port and schedules a reconnect.
	Poll func() error
	// PollInterval is the pause between successful polls.
	PollInterval time.Duration

	handler handler
	modbus.Client
}

func (c *Client) Connect(ctx context.Context) error {
	h := modbus.NewRTUClientHandler(c.Port)
	h.BaudRate = c.BaudRate
	if h.BaudRate == 0 {
		h.BaudRate = 9600
	}
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 1
	h.Timeout = 1 * time.Second
	h.SlaveId = c.SlaveId
	c.handler = h
	c.Client = modbus.NewClient(c.handler)
	go c.reconnectLoop(ctx)
	return nil
}

func (c *Client) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}

		if err := c.handler.Connect(); err != nil {
			log.Printf("opening %q: %v", c.Port, err)
			continue
		}
		if err := c.watch(ctx); err != nil {
			log.Printf("watching %q: %v", c.Port, err)
		}
	}
}

func (c *Client) watch(ctx context.Context) error {
	defer c.handler.Close()
	for {
		if c.Poll != nil {
			if err := c.Poll(); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

// WriteCoil sets a single coil on or off.
func WriteCoil(c modbus.Client, coil int, value bool) error {
	var v uint16
	if value {
		v = 0xFF00
	}
	_, err := c.WriteSingleCoil(uint16(coil), v)
	return err
}

// BytesToBits unpacks coil and discrete input replies, least significant bit first.
func BytesToBits(bs []byte) []bool {
	var out []bool
	for _, b := range bs {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i)&1) == 1)
		}
	}
	return out
}
