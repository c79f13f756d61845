package patterns

import (
	"fmt"
	"regexp"
	"strconv"
)

const feetToMeters = 0.3048

// altitudeRe matches ICAO level designators: F/A in hundreds of feet,
// S/M in tens of meters. Examples: F095, M0025, S0150.
var altitudeRe = regexp.MustCompile(`^([FASM])(\d{3,4})$`)

// ParseAltitude normalizes a level designator to meters.
func ParseAltitude(s string) (float64, error) {
	m := altitudeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("unrecognized altitude format: %q", s)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, err
	}
	switch m[1] {
	case "F", "A": // hundreds of feet
		return float64(n) * 100 * feetToMeters, nil
	default: // S, M: tens of meters
		return float64(n) * 10, nil
	}
}

var eetRe = regexp.MustCompile(`^(\d{2})(\d{2})$`)

// ParseEET decodes an elapsed-time field (HHMM) into minutes.
func ParseEET(s string) (int, error) {
	m := eetRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("unrecognized elapsed time: %q", s)
	}
	minutes := atoi2(m[2])
	if minutes > 59 {
		return 0, fmt.Errorf("minutes out of range in %q", s)
	}
	return atoi2(m[1])*60 + minutes, nil
}
