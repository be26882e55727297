package mount

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// FormatAngle pretty prints an angle given in arcseconds, e.g. "+18d26m32s".
func FormatAngle(arcsec float64) string {
	return format(arcsec, 'd')
}

// FormatHourAngle pretty prints a time angle given in seconds, e.g. "+12h34m56s".
func FormatHourAngle(seconds float64) string {
	return format(seconds, 'h')
}

func format(v float64, unit byte) string {
	sign := '+'
	if v < 0 {
		sign = '-'
	}
	n := int64(math.Abs(v))
	return fmt.Sprintf("%c%02d%c%02dm%02ds", sign, n/3600, unit, (n/60)%60, n%60)
}

var angleRE = regexp.MustCompile(`^([+-]?)(\d+)([dh])(\d{1,2})m(\d{1,2})s$`)

// ParseAngle parses the output of FormatAngle or FormatHourAngle and returns
// the value in arcseconds or seconds respectively.
func ParseAngle(s string) (float64, error) {
	parts := angleRE.FindStringSubmatch(s)
	if parts == nil {
		return 0, fmt.Errorf("malformed angle %q: %w", s, ErrInvalidArgument)
	}
	var fields [3]int64
	for i, p := range []string{parts[2], parts[4], parts[5]} {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed angle %q: %v: %w", s, err, ErrInvalidArgument)
		}
		fields[i] = v
	}
	if fields[1] > 59 || fields[2] > 59 {
		return 0, fmt.Errorf("angle %q out of range: %w", s, ErrInvalidArgument)
	}
	v := float64(fields[0]*3600 + fields[1]*60 + fields[2])
	if parts[1] == "-" {
		v = -v
	}
	return v, nil
}
