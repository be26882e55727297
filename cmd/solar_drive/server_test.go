package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/w1xm/solar_interface/device"
	"github.com/w1xm/solar_interface/device/simulator"
	"github.com/w1xm/solar_interface/mount"
	"github.com/w1xm/solar_interface/sun"
	"github.com/w1xm/solar_interface/worker"
)

func newTestServer(t *testing.T) (*Server, *simulator.Simulator) {
	t.Helper()
	sim, conn := simulator.New(mount.DefaultCalibration(), device.DefaultAxisCodes)
	ctx, cancel := context.WithCancel(context.Background())
	go sim.Run(ctx)
	m := worker.NewManager(device.New(conn, device.DefaultAxisCodes), worker.Config{})
	t.Cleanup(func() {
		if err := m.Shutdown(5 * time.Second); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		cancel()
	})
	return NewServer(m, nil, sun.MeanSolar{}), sim
}

func waitIdle(t *testing.T, s *Server) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		s.m.Flush()
		if s.m.CommandsRunning() == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for slews to finish")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestExecute(t *testing.T) {
	s, sim := newTestServer(t)
	for _, test := range []struct {
		cmd    Command
		wantOK bool
	}{
		{Command{Command: "set_latitude", Degrees: 51.5}, true},
		{Command{Command: "set_longitude", Degrees: -3.2}, true},
		{Command{Command: "set_position", Axis: "secondary", Arcsec: 100}, true},
		{Command{Command: "fine_tune", Primary: 10, Secondary: -10}, true},
		{Command{Command: "slew_axis", Axis: "primary", Arcsec: 2160}, true},
		// Refused until the slew has been flushed.
		{Command{Command: "start_tracking"}, false},
	} {
		ok, err := s.execute(test.cmd)
		if err != nil || ok != test.wantOK {
			t.Errorf("%s = %v, %v; want %v", test.cmd.Command, ok, err, test.wantOK)
		}
	}
	waitIdle(t, s)
	if got := sim.Count(mount.Primary); got != 100 {
		t.Errorf("primary encoder = %d, want 100", got)
	}
	state := s.m.Status()
	if state.Latitude != 51.5 || state.Longitude != -3.2 || state.PositionSecondary != 100 || state.PositionPrimary != 2160 {
		t.Errorf("unexpected state %+v", state)
	}
	if state.FineTune != (sun.Position{Primary: 10, Secondary: -10}) {
		t.Errorf("fine tune = %+v", state.FineTune)
	}
}

func TestExecuteErrors(t *testing.T) {
	s, _ := newTestServer(t)
	for _, cmd := range []Command{
		{Command: "slew_axis", Axis: "polar"},
		{Command: "set_position", Axis: ""},
		{Command: "set_latitude", Degrees: 100},
		{Command: "set_power", Enabled: true},
		{Command: "warp"},
	} {
		if ok, err := s.execute(cmd); ok || err == nil {
			t.Errorf("%+v = %v, %v; want error", cmd, ok, err)
		}
	}
	if _, err := s.execute(Command{Command: "slew_axis", Axis: "up"}); !errors.Is(err, mount.ErrInvalidArgument) {
		t.Errorf("bad axis: %v, want ErrInvalidArgument", err)
	}
}

func TestStatusHandler(t *testing.T) {
	s, _ := newTestServer(t)
	s.now = func() time.Time { return time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC) }
	s.execute(Command{Command: "set_latitude", Degrees: 51.5})
	s.refresh()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Latitude != 51.5 {
		t.Errorf("latitude = %v", got.Latitude)
	}
	want := sun.MeanSolar{}.Position(s.now(), 51.5, 0)
	if got.Target != want {
		t.Errorf("target = %+v, want %+v", got.Target, want)
	}
	if got.Power != nil || got.Error != "" {
		t.Errorf("unexpected power/error: %+v %q", got.Power, got.Error)
	}
}

func TestStatusSocket(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	if err := conn.WriteJSON(Command{Command: "set_longitude", Degrees: 45}); err != nil {
		t.Fatal(err)
	}
	for {
		var status Status
		if err := conn.ReadJSON(&status); err != nil {
			t.Fatal(err)
		}
		if status.Longitude == 45 {
			break
		}
	}
}

type rotctldClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newRotctldClient(t *testing.T, s *Server) *rotctldClient {
	client, server := net.Pipe()
	go s.handleRotctld(server)
	t.Cleanup(func() { client.Close() })
	client.SetDeadline(time.Now().Add(10 * time.Second))
	return &rotctldClient{t: t, conn: client, r: bufio.NewReader(client)}
}

// do sends line and reads n reply lines.
func (c *rotctldClient) do(line string, n int) []string {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatal(err)
	}
	var out []string
	for i := 0; i < n; i++ {
		l, err := c.r.ReadString('\n')
		if err != nil {
			c.t.Fatal(err)
		}
		out = append(out, strings.TrimSuffix(l, "\n"))
	}
	return out
}

func TestRotctld(t *testing.T) {
	s, _ := newTestServer(t)
	s.m.SetLatitude(51.5)
	// Hour angle zero, declination zero: due south.
	s.m.SetPosition(mount.Secondary, (90-51.5)*mount.ArcsecPerDegree)
	c := newRotctldClient(t, s)

	for _, test := range []struct {
		line string
		want []string
	}{
		{"S", []string{"RPRT 0"}},
		{`+\stop`, []string{"stop:", "RPRT 0"}},
		{"P 10", []string{"RPRT -22"}},
		{"P north 10", []string{"RPRT -22"}},
		{"Z", []string{"RPRT -22"}},
		{"_", []string{"Solar mount"}},
		{`\get_info`, []string{"Solar mount"}},
	} {
		got := c.do(test.line, len(test.want))
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("%q: want(-)/got(+):\n%s", test.line, diff)
		}
	}

	readPos := func() (float64, float64) {
		t.Helper()
		lines := c.do("p", 2)
		az, err := strconv.ParseFloat(lines[0], 64)
		if err != nil {
			t.Fatal(err)
		}
		el, err := strconv.ParseFloat(lines[1], 64)
		if err != nil {
			t.Fatal(err)
		}
		return az, el
	}
	az, el := readPos()
	if math.Abs(math.Abs(az)-180) > 1e-3 || math.Abs(el-38.5) > 1e-3 {
		t.Errorf("get_pos = %v, %v; want 180, 38.5", az, el)
	}

	if got := c.do("P -150 30", 1); got[0] != "RPRT 0" {
		t.Fatalf("set_pos: %q", got[0])
	}
	// A second move is refused until the first has finished.
	if got := c.do("P -150 30", 1); got[0] != "RPRT -9" {
		t.Errorf("set_pos while slewing: %q", got[0])
	}
	waitIdle(t, s)
	az, el = readPos()
	if math.Abs(az+150) > 1e-3 || math.Abs(el-30) > 1e-3 {
		t.Errorf("after set_pos got %v, %v; want -150, 30", az, el)
	}

	got := c.do(`+\get_pos`, 4)
	if got[0] != "get_pos:" || !strings.HasPrefix(got[1], "Azimuth: ") || !strings.HasPrefix(got[2], "Elevation: ") || got[3] != "RPRT 0" {
		t.Errorf("extended get_pos = %q", got)
	}
}
