package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/w1xm/solar_interface/mount"
	"github.com/w1xm/solar_interface/power"
	"github.com/w1xm/solar_interface/sun"
	"github.com/w1xm/solar_interface/worker"
)

type Status struct {
	worker.State
	Time            time.Time     `json:"time"`
	Target          sun.Position  `json:"target"`
	CommandsRunning int           `json:"commands_running"`
	Power           *power.Status `json:"power,omitempty"`
	Error           string        `json:"error,omitempty"`
}

type Server struct {
	m      *worker.Manager
	relay  *power.Relay
	source sun.Source
	now    func() time.Time

	statusMu sync.RWMutex
	status   Status
	// changed is closed and replaced on every status update.
	changed chan struct{}
}

func NewServer(m *worker.Manager, relay *power.Relay, source sun.Source) *Server {
	return &Server{
		m:       m,
		relay:   relay,
		source:  source,
		now:     time.Now,
		changed: make(chan struct{}),
	}
}

// refresh drains the worker's responses and publishes a new status.
func (s *Server) refresh() {
	s.m.Flush()
	state := s.m.Status()
	now := s.now()
	status := Status{
		State:           state,
		Time:            now,
		Target:          s.source.Position(now, state.Latitude, state.Longitude).Add(state.FineTune),
		CommandsRunning: s.m.CommandsRunning(),
	}
	if s.relay != nil {
		p := s.relay.Status()
		status.Power = &p
	}
	if err := s.m.Err(); err != nil {
		status.Error = err.Error()
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	close(s.changed)
	s.changed = make(chan struct{})
}

// FlushLoop refreshes the status every interval until ctx is done or the
// worker exits.
func (s *Server) FlushLoop(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.refresh()
		select {
		case <-ctx.Done():
			return nil
		case <-s.m.Done():
			s.refresh()
			return fmt.Errorf("worker stopped: %w", s.m.Err())
		case <-t.C:
		}
	}
}

func (s *Server) Status() (Status, <-chan struct{}) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status, s.changed
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/ws", s.StatusSocketHandler)
	return r
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status, _ := s.Status()
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(status)
	if err != nil {
		log.Print(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

type Command struct {
	Command   string  `json:"command"`
	Axis      string  `json:"axis"`
	Arcsec    float64 `json:"arcsec"`
	Primary   float64 `json:"primary"`
	Secondary float64 `json:"secondary"`
	Degrees   float64 `json:"degrees"`
	Enabled   bool    `json:"enabled"`
}

func parseAxis(name string) (mount.Axis, error) {
	for _, axis := range mount.Axes {
		if axis.String() == name {
			return axis, nil
		}
	}
	return 0, fmt.Errorf("unknown axis %q: %w", name, mount.ErrInvalidArgument)
}

// execute runs one command. It reports false if the command was refused
// because a slew or tracking is in progress.
func (s *Server) execute(cmd Command) (bool, error) {
	switch cmd.Command {
	case "slew_axis":
		axis, err := parseAxis(cmd.Axis)
		if err != nil {
			return false, err
		}
		return s.m.SlewAxis(axis, cmd.Arcsec)
	case "slew_to":
		return s.m.SlewTo(sun.Position{Primary: cmd.Primary, Secondary: cmd.Secondary})
	case "slew_to_target":
		return s.m.SlewToTarget()
	case "return_to_zero":
		return s.m.ReturnToZero()
	case "set_latitude":
		return s.m.SetLatitude(cmd.Degrees)
	case "set_longitude":
		return s.m.SetLongitude(cmd.Degrees)
	case "start_tracking":
		return s.m.StartTracking()
	}

	var err error
	switch cmd.Command {
	case "set_position":
		var axis mount.Axis
		if axis, err = parseAxis(cmd.Axis); err == nil {
			err = s.m.SetPosition(axis, cmd.Arcsec)
		}
	case "fine_tune":
		err = s.m.FineTune(cmd.Primary, cmd.Secondary)
	case "set_zero":
		err = s.m.SetZero()
	case "set_to_target":
		err = s.m.SetToTarget()
	case "cancel_tracking":
		err = s.m.CancelTracking()
	case "set_power":
		if s.relay == nil {
			return false, fmt.Errorf("no power relay configured")
		}
		err = s.relay.SetEnabled(cmd.Enabled)
	default:
		return false, fmt.Errorf("unknown command %q", cmd.Command)
	}
	return err == nil, err
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	go func() {
		defer cancel()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			ok, err := s.execute(msg)
			if err != nil {
				log.Printf("%v: %s: %v", conn.RemoteAddr(), msg.Command, err)
			} else if !ok {
				log.Printf("%v: %s refused while busy", conn.RemoteAddr(), msg.Command)
			}
			s.refresh()
		}
	}()

	for {
		status, changed := s.Status()
		if err := conn.WriteJSON(status); err != nil {
			log.Print(err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}
