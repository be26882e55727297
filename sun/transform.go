package sun

import (
	"math"

	"github.com/w1xm/solar_interface/mount"
)

// equhor converts between hour-angle/declination and azimuth/altitude.
// The transform is its own inverse. phi is the observer's latitude.
// Arguments are in radians; azimuth is measured from north through east.
// Algorithm from https://metacpan.org/dist/Astro-Montenbruck/source/lib/Astro/Montenbruck/CoCo.pm
func equhor(x, y, phi float64) (float64, float64) {
	sx, sy, sphi := math.Sin(x), math.Sin(y), math.Sin(phi)
	cx, cy, cphi := math.Cos(x), math.Cos(y), math.Cos(phi)

	sq := (sy * sphi) + (cy * cphi * cx)
	q := math.Asin(clamp(sq))

	cp := (sy - (sphi * sq)) / (cphi * math.Cos(q))
	p := math.Acos(clamp(cp))
	if sx > 0 {
		p = 2*math.Pi - p
	}
	return p, q
}

// clamp keeps rounding noise inside the domain of Asin/Acos.
func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}

// EquatorialToHorizontal converts an hour angle and declination to azimuth
// and altitude. All values are in degrees.
func EquatorialToHorizontal(hourAngle, dec, latitude float64) (az, alt float64) {
	p, q := equhor(deg2rad(hourAngle), deg2rad(dec), deg2rad(latitude))
	return rad2deg(p), rad2deg(q)
}

// HorizontalToEquatorial converts azimuth and altitude to an hour angle in
// [0, 360) and a declination. All values are in degrees.
func HorizontalToEquatorial(az, alt, latitude float64) (hourAngle, dec float64) {
	p, q := equhor(deg2rad(az), deg2rad(alt), deg2rad(latitude))
	return rad2deg(p), rad2deg(q)
}

// signedDegrees maps an angle to (-180, 180].
func signedDegrees(a float64) float64 {
	a = math.Mod(a, 360)
	if a > 180 {
		a -= 360
	} else if a <= -180 {
		a += 360
	}
	return a
}

// Horizontal returns the azimuth and altitude in degrees that the mount
// position p points at for an observer at latitude.
func (p Position) Horizontal(latitude float64) (az, alt float64) {
	ha := p.Primary / mount.ArcsecPerDegree
	dec := p.Secondary/mount.ArcsecPerDegree - 90 + latitude
	return EquatorialToHorizontal(ha, dec, latitude)
}

// FromHorizontal is the inverse of Position.Horizontal.
func FromHorizontal(az, alt, latitude float64) Position {
	ha, dec := HorizontalToEquatorial(az, alt, latitude)
	return Position{
		Primary:   signedDegrees(ha) * mount.ArcsecPerDegree,
		Secondary: elevation(latitude, dec),
	}
}
