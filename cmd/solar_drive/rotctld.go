package main

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

	"github.com/w1xm/solar_interface/sun"
	"github.com/w1xm/solar_interface/worker"
)

// Hamlib return codes.
const (
	rprtOK       = 0
	rprtEIO      = -6
	rprtRejected = -9
	rprtEINVAL   = -22
)

func (s *Server) ListenRotctld(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing rotctld socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("failed to accept: %v", err)
				}
				continue
			}
			go s.handleRotctld(conn)
		}
	}()
	return nil
}

func rprtFor(ok bool, err error) int {
	switch {
	case errors.Is(err, worker.ErrStopped):
		return rprtEIO
	case err != nil:
		return rprtEINVAL
	case !ok:
		return rprtRejected
	}
	return rprtOK
}

func (s *Server) handleRotctld(conn io.ReadWriteCloser) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by command name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Fields(cmd)
			cmd = parts[0][2:]
			args = parts[1:]
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else if len(cmd) > 1 && cmd[0] == '\\' {
			parts := strings.Fields(cmd)
			cmd = parts[0][1:]
			args = parts[1:]
		} else {
			// Space after command is optional.
			if len(cmd) > 1 {
				args = strings.Fields(cmd[1:])
			}
			cmd = string(cmd[0])
		}
		rprt := rprtEINVAL
		switch cmd {
		case "1", "dump_caps":
			fmt.Fprint(conn, `Model name: Solar mount
Mfg name: W1XM
Rot type: Az-El
Min Azimuth: -180.00
Max Azimuth: 180.00
Min Elevation: -90.00
Max Elevation: 90.00
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Park: Y
Can Reset: N
Can Move: N
Can get Info: Y
`)
			rprt = rprtOK
		case "_", "get_info":
			fmt.Fprintf(conn, "Solar mount\n")
			rprt = rprtOK
		case "S", "stop":
			extended = true // always print RPRT
			rprt = rprtFor(true, s.m.CancelTracking())
		case "K", "park":
			extended = true // always print RPRT
			rprt = rprtFor(s.m.ReturnToZero())
		case "P", "set_pos":
			extended = true // always print RPRT
			if len(args) != 2 {
				break
			}
			az, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				break
			}
			el, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				break
			}
			if az < 0 {
				az += 360
			}
			target := sun.FromHorizontal(az, el, s.m.Latitude())
			rprt = rprtFor(s.m.SlewTo(target))
		case "p", "get_pos":
			s.m.Flush()
			state := s.m.Status()
			az, el := sun.Position{Primary: state.PositionPrimary, Secondary: state.PositionSecondary}.Horizontal(state.Latitude)
			if az > 180 {
				az -= 360
			}
			if extended {
				fmt.Fprintf(conn, "Azimuth: %.6f\nElevation: %.6f\n", az, el)
			} else {
				fmt.Fprintf(conn, "%.6f\n%.6f\n", az, el)
			}
			rprt = rprtOK
		}
		if rprt != rprtOK {
			log.Printf("rotctld command %q args %q: RPRT %d", cmd, args, rprt)
		}
		if extended || rprt != rprtOK {
			fmt.Fprintf(conn, "RPRT %d\n", rprt)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading rotctld command: %v", err)
	}
}
