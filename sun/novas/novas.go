//go:build novas

// Package novas provides a sun.Source backed by the NOVAS library.
//
// The library loads the JPL ephemeris named by the JPLEPH environment
// variable when the process starts and exits if it is missing, so only
// binaries built with the novas tag link this package.
package novas

import (
	"time"

	"github.com/pebbe/novas"
	"github.com/w1xm/solar_interface/sun"
)

func init() {
	sun.Register("novas", func(height float64) sun.Source {
		return Source{Height: height}
	})
}

// Source computes the topocentric Sun and converts it into the mount frame.
// Refraction is not applied.
type Source struct {
	// Height is the observer's height above sea level in metres.
	Height float64
}

func (s Source) Position(t time.Time, latitude, longitude float64) sun.Position {
	t = t.UTC()
	nt := novas.Date(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	// Temperature and pressure only matter for refraction.
	geo := novas.NewPlace(latitude, longitude, s.Height, 10, 1010)
	data := novas.Sun().Topo(nt, geo, novas.REFR_NONE)
	return sun.FromHorizontal(data.Az, data.Alt, latitude)
}
