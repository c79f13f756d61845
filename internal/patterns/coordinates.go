// Package patterns provides the shared field decoders for telegram parsing:
// sexagesimal coordinates, fixed-width date/time codes, and altitude/duration
// units.
package patterns

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// coordRe matches combined sexagesimal coordinates: latitude as DDMM or
// DDMMSS with hemisphere, longitude as DDDMM or DDDMMSS with hemisphere.
// Example: 550000N0370000E, 4408N04308E.
var coordRe = regexp.MustCompile(`^(\d{4,6})([NS])(\d{5,7})([EW])$`)

// ParseCoordinate decodes a combined lat/lon token into signed decimal
// degrees. Out-of-range values are a hard failure, never a clamp.
func ParseCoordinate(s string) (lat, lon float64, err error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	m := coordRe.FindStringSubmatch(normalized)
	if m == nil {
		return 0, 0, fmt.Errorf("not a DDMM[SS]N DDDMM[SS]E coordinate: %q", s)
	}

	lat, err = parseSexagesimal(m[1], 2, m[2])
	if err != nil {
		return 0, 0, fmt.Errorf("latitude: %w", err)
	}
	lon, err = parseSexagesimal(m[3], 3, m[4])
	if err != nil {
		return 0, 0, fmt.Errorf("longitude: %w", err)
	}
	if lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("latitude out of range: %g", lat)
	}
	if lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("longitude out of range: %g", lon)
	}
	return lat, lon, nil
}

// parseSexagesimal converts a degrees-minutes(-seconds) digit run to decimal
// degrees. degDigits is 2 for latitude and 3 for longitude.
func parseSexagesimal(raw string, degDigits int, dir string) (float64, error) {
	if len(raw) < degDigits+2 {
		return 0, fmt.Errorf("too short: %q", raw)
	}
	deg, err := strconv.Atoi(raw[:degDigits])
	if err != nil {
		return 0, err
	}

	remainder := raw[degDigits:]
	var minutes, seconds int
	switch len(remainder) {
	case 2:
		minutes, err = strconv.Atoi(remainder)
	case 4:
		minutes, err = strconv.Atoi(remainder[:2])
		if err == nil {
			seconds, err = strconv.Atoi(remainder[2:])
		}
	default:
		return 0, fmt.Errorf("unexpected minute/second width in %q", raw)
	}
	if err != nil {
		return 0, err
	}
	if minutes >= 60 {
		return 0, fmt.Errorf("minutes out of range: %d", minutes)
	}
	if seconds >= 60 {
		return 0, fmt.Errorf("seconds out of range: %d", seconds)
	}

	value := float64(deg) + float64(minutes)/60 + float64(seconds)/3600
	if dir == "S" || dir == "W" {
		value = -value
	}
	return value, nil
}

// FormatCoordinate re-encodes decimal degrees as DDMMSS{N|S}DDDMMSS{E|W}.
// Round-trips ParseCoordinate output to within one second of arc.
func FormatCoordinate(lat, lon float64) string {
	return formatSexagesimal(lat, 2, "N", "S") + formatSexagesimal(lon, 3, "E", "W")
}

func formatSexagesimal(value float64, degDigits int, pos, neg string) string {
	dir := pos
	if value < 0 {
		dir = neg
		value = -value
	}
	total := int(value*3600 + 0.5)
	deg := total / 3600
	min := (total % 3600) / 60
	sec := total % 60
	return fmt.Sprintf("%0*d%02d%02d%s", degDigits, deg, min, sec, dir)
}
