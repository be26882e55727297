// Package sun provides the target positions that the mount follows.
//
// Positions are expressed in the mount's own frame: Primary is the solar hour
// angle in arcseconds (zero at local noon, positive in the afternoon) and
// Secondary is the mirror elevation in arcseconds, 90 degrees minus the
// latitude plus the solar declination.
package sun

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/w1xm/solar_interface/mount"
)

type Position struct {
	Primary   float64 `json:"primary"`
	Secondary float64 `json:"secondary"`
}

func (p Position) Axis(axis mount.Axis) float64 {
	if axis == mount.Secondary {
		return p.Secondary
	}
	return p.Primary
}

func (p Position) Add(o Position) Position {
	return Position{Primary: p.Primary + o.Primary, Secondary: p.Secondary + o.Secondary}
}

// Source yields the Sun's position for an observer.
// Latitude and longitude are in degrees, longitude positive east.
type Source interface {
	Position(t time.Time, latitude, longitude float64) Position
}

// SourceFunc adapts a function to Source.
type SourceFunc func(t time.Time, latitude, longitude float64) Position

func (f SourceFunc) Position(t time.Time, latitude, longitude float64) Position {
	return f(t, latitude, longitude)
}

var (
	sourcesMu sync.Mutex
	sources   = map[string]func(height float64) Source{}
)

// Register makes a source available to SourceFor under name. Sources that
// need external data live in their own packages and register themselves
// when linked.
func Register(name string, newSource func(height float64) Source) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	sources[name] = newSource
}

// SourceFor returns the source registered under name for an observer height
// in metres. "" and "mean" are always MeanSolar.
func SourceFor(name string, height float64) (Source, error) {
	if name == "" || name == "mean" {
		return MeanSolar{}, nil
	}
	sourcesMu.Lock()
	newSource, ok := sources[name]
	sourcesMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown sun source %q (not linked into this binary?)", name)
	}
	return newSource(height), nil
}

// MeanSolarTime returns the local mean solar time at longitude.
func MeanSolarTime(t time.Time, longitude float64) time.Time {
	return t.UTC().Add(time.Duration(longitude / 15 * float64(time.Hour)))
}

// MeanSolar approximates the Sun using mean solar time and a cosine fit of
// the declination. Accurate to a few degrees, which is enough to find the
// Sun before fine tuning.
type MeanSolar struct{}

func (MeanSolar) Position(t time.Time, latitude, longitude float64) Position {
	mst := MeanSolarTime(t, longitude)
	midnight := time.Date(mst.Year(), mst.Month(), mst.Day(), 0, 0, 0, 0, time.UTC)
	sinceNoon := mst.Sub(midnight).Seconds() - 12*60*60
	return Position{
		Primary:   sinceNoon * mount.ArcsecPerSecond,
		Secondary: elevation(latitude, Declination(t)),
	}
}

// Declination is the approximate solar declination in degrees.
func Declination(t time.Time) float64 {
	n := float64(t.UTC().YearDay() - 1)
	return -23.44 * math.Cos(2*math.Pi/365*(n+10))
}

func elevation(latitude, dec float64) float64 {
	return (90 - latitude + dec) * mount.ArcsecPerDegree
}
