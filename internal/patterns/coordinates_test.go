package patterns

import (
	"math"
	"testing"
)

// almostEqual checks if two floats are equal within a tolerance.
func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLat float64
		wantLon float64
	}{
		{
			name:    "DDMMSS with seconds",
			input:   "550000N0370000E",
			wantLat: 55.0,
			wantLon: 37.0,
		},
		{
			name:    "DDMM without seconds",
			input:   "4408N04308E",
			wantLat: 44.133333,
			wantLon: 43.133333,
		},
		{
			name:    "southern and western hemispheres",
			input:   "335630S0182430W",
			wantLat: -33.941667,
			wantLon: -18.408333,
		},
		{
			name:    "minutes and seconds contribute",
			input:   "551000N0371000E",
			wantLat: 55.166667,
			wantLon: 37.166667,
		},
		{
			name:    "embedded spaces tolerated",
			input:   "550000N 0370000E",
			wantLat: 55.0,
			wantLon: 37.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat, lon, err := ParseCoordinate(tt.input)
			if err != nil {
				t.Fatalf("ParseCoordinate(%q) error: %v", tt.input, err)
			}
			if !almostEqual(lat, tt.wantLat, 0.0001) {
				t.Errorf("lat = %f, want %f", lat, tt.wantLat)
			}
			if !almostEqual(lon, tt.wantLon, 0.0001) {
				t.Errorf("lon = %f, want %f", lon, tt.wantLon)
			}
		})
	}
}

func TestParseCoordinateRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"latitude degrees out of range", "990000N0370000E"},
		{"longitude degrees out of range", "550000N1810000E"},
		{"minutes out of range", "556000N0370000E"},
		{"seconds out of range", "550060N0370000E"},
		{"missing hemisphere", "5500000370000E"},
		{"not a coordinate at all", "MOSCOW"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseCoordinate(tt.input); err == nil {
				t.Errorf("ParseCoordinate(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestFormatCoordinateRoundTrip(t *testing.T) {
	inputs := []string{
		"550000N0370000E",
		"4408N04308E",
		"335630S0182430W",
	}

	for _, input := range inputs {
		lat, lon, err := ParseCoordinate(input)
		if err != nil {
			t.Fatalf("ParseCoordinate(%q) error: %v", input, err)
		}
		lat2, lon2, err := ParseCoordinate(FormatCoordinate(lat, lon))
		if err != nil {
			t.Fatalf("re-parse of FormatCoordinate(%q) failed: %v", input, err)
		}
		// One second of arc is ~0.00028 degrees.
		if !almostEqual(lat, lat2, 0.0003) || !almostEqual(lon, lon2, 0.0003) {
			t.Errorf("%q round-trip drifted: (%f,%f) -> (%f,%f)", input, lat, lon, lat2, lon2)
		}
	}
}
