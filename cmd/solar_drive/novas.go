//go:build novas

package main

// Linking the ephemeris source needs JPLEPH at run time.
import _ "github.com/w1xm/solar_interface/sun/novas"
