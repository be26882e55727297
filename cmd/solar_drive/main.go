// Command solar_drive runs the solar telescope mount: it owns the motor
// controller, tracks the Sun and serves the status and command API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/w1xm/solar_interface/config"
	"github.com/w1xm/solar_interface/device"
	"github.com/w1xm/solar_interface/device/simulator"
	"github.com/w1xm/solar_interface/power"
	"github.com/w1xm/solar_interface/worker"
	"golang.org/x/sync/errgroup"
)

var (
	configFile  = flag.String("config", "", "YAML configuration file")
	addr        = flag.String("addr", "127.0.0.1:8502", "HTTP listen address")
	rotctldAddr = flag.String("rotctld", "", "rotctld listen address, e.g. :4533")
	simulate    = flag.Bool("simulate", false, "drive a simulated mount instead of the configured device")
	listPorts   = flag.Bool("list_ports", false, "list serial ports and exit")
	verbose     = flag.Bool("verbose", false, "log every line exchanged with the motor controller")
)

const (
	flushInterval   = 200 * time.Millisecond
	shutdownTimeout = 15 * time.Second
)

func main() {
	flag.Parse()
	device.Verbose = *verbose

	if *listPorts {
		ports, err := device.ListPorts()
		if err != nil {
			log.Fatal(err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}
	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config) error {
	cal, err := cfg.Calibration()
	if err != nil {
		return err
	}
	source, err := cfg.Source()
	if err != nil {
		return err
	}
	saved, err := config.LoadState(cfg.StateFile)
	if err != nil {
		return err
	}
	log.Printf("restored state %+v", saved)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The device outlives ctx so that Shutdown can still finish a command.
	devCtx, devCancel := context.WithCancel(context.Background())
	defer devCancel()

	var dev worker.Device
	if *simulate {
		sim, conn := simulator.New(cal, cfg.Device.AxisCodes)
		go func() {
			if err := sim.Run(devCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("simulator: %v", err)
			}
		}()
		dev = device.New(conn, cfg.Device.AxisCodes)
	} else {
		ch, err := device.Dial(ctx, cfg.Device.Endpoint, cfg.Device.Baud, cfg.Device.AxisCodes)
		if err != nil {
			return err
		}
		dev = ch
	}

	var relay *power.Relay
	if cfg.Power.Port != "" {
		relay, err = power.Connect(devCtx, cfg.Power.Port, cfg.Power.Baud, cfg.Power.SlaveID, func(s power.Status) {
			log.Printf("motor power: commanded %v, energised %v", s.Commanded, s.Energised)
		})
		if err != nil {
			dev.Close()
			return err
		}
		if err := relay.SetEnabled(true); err != nil {
			log.Print(err)
		}
	}

	m := worker.NewManager(dev, worker.Config{
		Calibration: cal,
		Source:      source,
		State: worker.State{
			PositionPrimary:   saved.PositionPrimary,
			PositionSecondary: saved.PositionSecondary,
			Latitude:          saved.Latitude,
			Longitude:         saved.Longitude,
		},
		TickInterval:    cfg.TickInterval(),
		MaxChunkTicks:   cfg.Motion.MaxChunkTicks,
		OvershootFactor: cfg.Motion.OvershootFactor,
		MaxStalls:       cfg.Motion.MaxStalls,
	})
	s := NewServer(m, relay, source)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.FlushLoop(gctx, flushInterval)
	})
	srv := &http.Server{
		Handler:      s.Handler(),
		Addr:         *addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Close()
	})
	if *rotctldAddr != "" {
		g.Go(func() error {
			return s.ListenRotctld(gctx, *rotctldAddr)
		})
	}

	err = g.Wait()
	log.Print("shutting down")
	var sw powerSwitch
	if relay != nil {
		sw = relay
	}
	if serr := shutdown(m, sw, cfg.StateFile, shutdownTimeout); serr != nil {
		return serr
	}
	return err
}

type powerSwitch interface {
	SetEnabled(enabled bool) error
}

// shutdown stops the worker, saves the mount state and turns motor power
// off. If the worker does not stop in time a motor may still be turning, so
// neither state nor power is touched. After a fatal device error the
// position is unknown and the state file is left as it was.
func shutdown(m *worker.Manager, sw powerSwitch, statePath string, timeout time.Duration) error {
	serr := m.Shutdown(timeout)
	if errors.Is(serr, worker.ErrShutdownTimeout) {
		return fmt.Errorf("worker shutdown: %w", serr)
	}

	if device.IsFatal(m.Err()) {
		log.Printf("mount position unknown after %v; not saving state", m.Err())
	} else {
		state := m.Status()
		if err := config.SaveState(statePath, config.State{
			PositionPrimary:   state.PositionPrimary,
			PositionSecondary: state.PositionSecondary,
			Latitude:          state.Latitude,
			Longitude:         state.Longitude,
		}); err != nil {
			log.Printf("saving state: %v", err)
		} else {
			log.Printf("saved state to %s", statePath)
		}
	}

	if sw != nil {
		if err := sw.SetEnabled(false); err != nil {
			log.Print(err)
		}
	}
	if serr != nil {
		return fmt.Errorf("worker shutdown: %w", serr)
	}
	return nil
}
