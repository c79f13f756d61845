package normalizer

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"shr_parser/internal/geo"
	"shr_parser/internal/telegram"
)

func tp(h, m int) *time.Time {
	t := time.Date(2024, 1, 5, h, m, 0, 0, time.UTC)
	return &t
}

func TestNormalizeActualBeatsPlanned(t *testing.T) {
	n := New(nil, zap.NewNop())

	plan := &telegram.Parsed{
		Kind:         telegram.KindSHR,
		FlightID:     "7772187998",
		Operator:     "STATE RESCUE",
		UavType:      "BLA",
		TakeoffTime:  tp(7, 5),
		LandingTime:  tp(9, 0),
		TakeoffPoint: &telegram.Point{Lon: 43.13, Lat: 44.13},
	}
	dep := &telegram.Parsed{
		Kind:        telegram.KindDEP,
		FlightID:    "7772187998",
		TakeoffTime: tp(7, 12),
		Actual:      true,
	}
	arrive := &telegram.Parsed{
		Kind:        telegram.KindARR,
		FlightID:    "7772187998",
		LandingTime: tp(9, 20),
		Actual:      true,
	}

	f, err := n.Normalize([]*telegram.Parsed{plan, dep, arrive}, &telegram.RawMessage{Sheet: "S1", Row: 2})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}

	if f.FlightID != "7772187998" {
		t.Errorf("flight id = %q", f.FlightID)
	}
	if f.TimeSource != TimeSourceActual {
		t.Errorf("time source = %q, want actual", f.TimeSource)
	}
	if f.TakeoffTime == nil || !f.TakeoffTime.Equal(*tp(7, 12)) {
		t.Errorf("takeoff = %v, want reported 07:12", f.TakeoffTime)
	}
	if f.LandingTime == nil || !f.LandingTime.Equal(*tp(9, 20)) {
		t.Errorf("landing = %v, want reported 09:20", f.LandingTime)
	}
	if f.Duration == nil || *f.Duration != 2*time.Hour+8*time.Minute {
		t.Errorf("duration = %v, want 2h8m", f.Duration)
	}
	// The planned point survives when the reports carry none.
	if f.TakeoffPoint == nil || f.TakeoffPoint.Lat != 44.13 {
		t.Errorf("takeoff point = %+v", f.TakeoffPoint)
	}
}

func TestNormalizePlannedOnlyIsEstimated(t *testing.T) {
	n := New(nil, zap.NewNop())

	plan := &telegram.Parsed{
		Kind:        telegram.KindSHR,
		FlightID:    "42",
		TakeoffTime: tp(7, 0),
		LandingTime: tp(9, 0),
	}
	f, err := n.Normalize([]*telegram.Parsed{plan}, &telegram.RawMessage{})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if f.TimeSource != TimeSourceEstimated {
		t.Errorf("time source = %q, want estimated", f.TimeSource)
	}
	if !hasWarning(f, "estimated") {
		t.Errorf("missing estimated warning: %v", f.Warnings)
	}
	if f.Duration == nil || *f.Duration != 2*time.Hour {
		t.Errorf("duration = %v, want 2h", f.Duration)
	}
}

func TestNormalizeNegativeDurationDropped(t *testing.T) {
	n := New(nil, zap.NewNop())

	plan := &telegram.Parsed{
		FlightID:    "42",
		TakeoffTime: tp(9, 0),
		LandingTime: tp(7, 0),
	}
	f, err := n.Normalize([]*telegram.Parsed{plan}, &telegram.RawMessage{})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if f.Duration != nil {
		t.Errorf("duration = %v, want nil", f.Duration)
	}
	if !hasWarning(f, "precedes") {
		t.Errorf("missing negative duration warning: %v", f.Warnings)
	}
}

func TestNormalizeSyntheticFlightID(t *testing.T) {
	n := New(nil, zap.NewNop())

	p := &telegram.Parsed{TakeoffTime: tp(7, 0)}
	f, err := n.Normalize([]*telegram.Parsed{p}, &telegram.RawMessage{Sheet: "List2", Row: 17})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if f.FlightID != "SHR-List2-17" {
		t.Errorf("flight id = %q, want SHR-List2-17", f.FlightID)
	}
}

func TestNormalizeUnknownReferences(t *testing.T) {
	n := New(nil, zap.NewNop())

	f, err := n.Normalize([]*telegram.Parsed{{FlightID: "42"}}, &telegram.RawMessage{})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if f.OperatorCode != "UNKNOWN" || f.UavTypeCode != "UNKNOWN" {
		t.Errorf("codes = %q/%q, want UNKNOWN", f.OperatorCode, f.UavTypeCode)
	}
}

type fakeResolver struct{}

func (fakeResolver) Resolve(lon, lat float64) (geo.Match, bool) {
	if lon < 40 {
		return geo.Match{}, false
	}
	return geo.Match{Code: "R-26", Name: "Stavropol"}, true
}

func TestNormalizeRegionResolution(t *testing.T) {
	n := New(fakeResolver{}, zap.NewNop())

	p := &telegram.Parsed{
		FlightID:     "42",
		TakeoffPoint: &telegram.Point{Lon: 43.13, Lat: 44.13},
		LandingPoint: &telegram.Point{Lon: 30.0, Lat: 60.0}, // outside coverage
	}
	f, err := n.Normalize([]*telegram.Parsed{p}, &telegram.RawMessage{})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if f.RegionFrom == nil || *f.RegionFrom != "R-26" {
		t.Errorf("region from = %v, want R-26", f.RegionFrom)
	}
	// Unresolvable side stays null; that is an expected outcome.
	if f.RegionTo != nil {
		t.Errorf("region to = %v, want nil", f.RegionTo)
	}
}

func TestSlugCode(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"State Rescue Service", "STATE_RESCUE_SERVICE"},
		{"  ooo \"aero-m\" ", "OOO_AERO_M"},
		{"///", "UNKNOWN"},
		{"BLA", "BLA"},
	}
	for _, tt := range tests {
		if got := SlugCode(tt.input, 64); got != tt.want {
			t.Errorf("SlugCode(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSlugCodeBounded(t *testing.T) {
	got := SlugCode(strings.Repeat("A", 100), 64)
	if len(got) != 64 {
		t.Errorf("len = %d, want 64", len(got))
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	if got := NormalizeIdentifier("  FLT  001 ", 64); got != "FLT 001" {
		t.Errorf("got %q, want collapsed FLT 001", got)
	}

	long1 := strings.Repeat("X", 100) + "A"
	long2 := strings.Repeat("X", 100) + "B"
	a := NormalizeIdentifier(long1, 64)
	b := NormalizeIdentifier(long2, 64)
	if len(a) > 64 || len(b) > 64 {
		t.Errorf("lengths = %d/%d, want <= 64", len(a), len(b))
	}
	// Distinct inputs must stay distinct after truncation.
	if a == b {
		t.Errorf("truncated identifiers collided: %q", a)
	}
	// Stable across calls.
	if a != NormalizeIdentifier(long1, 64) {
		t.Error("truncation is not deterministic")
	}
}

func hasWarning(f *Flight, substr string) bool {
	for _, w := range f.Warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
