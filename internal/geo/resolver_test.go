package geo

import (
	"testing"

	"github.com/paulmach/orb"
)

func testRegions() []Region {
	return []Region{
		{Code: "R-01", Name: "Alpha", Geometry: orb.MultiPolygon{square(0, 0, 10, 10)}},
		{Code: "R-02", Name: "Beta", Geometry: orb.MultiPolygon{square(5, 0, 15, 10)}},
		{Code: "R-03", Name: "Gamma", Geometry: orb.MultiPolygon{square(20, 20, 30, 30)}},
	}
}

func TestResolveInside(t *testing.T) {
	r := NewResolver(testRegions())

	m, ok := r.Resolve(25, 25)
	if !ok {
		t.Fatal("point inside Gamma not resolved")
	}
	if m.Code != "R-03" || m.Ambiguous {
		t.Errorf("match = %+v, want unambiguous R-03", m)
	}
}

func TestResolveOutside(t *testing.T) {
	r := NewResolver(testRegions())

	if m, ok := r.Resolve(50, 50); ok {
		t.Errorf("point outside all regions resolved to %+v", m)
	}
}

func TestResolveBoundaryInclusive(t *testing.T) {
	r := NewResolver(testRegions())

	// (20,25) lies exactly on Gamma's western edge.
	m, ok := r.Resolve(20, 25)
	if !ok {
		t.Fatal("boundary point not resolved")
	}
	if m.Code != "R-03" {
		t.Errorf("match = %+v, want R-03", m)
	}
}

func TestResolveOverlapDeterministic(t *testing.T) {
	r := NewResolver(testRegions())

	// (7,5) is inside both Alpha and Beta; the lowest code wins and the
	// match is flagged ambiguous.
	for i := 0; i < 5; i++ {
		m, ok := r.Resolve(7, 5)
		if !ok {
			t.Fatal("overlapping point not resolved")
		}
		if m.Code != "R-01" {
			t.Errorf("match = %s, want R-01", m.Code)
		}
		if !m.Ambiguous {
			t.Error("overlapping match not flagged ambiguous")
		}
	}
}

func TestResolverSkipsEmptyGeometry(t *testing.T) {
	r := NewResolver([]Region{
		{Code: "R-00", Name: "Empty"},
		{Code: "R-01", Name: "Alpha", Geometry: orb.MultiPolygon{square(0, 0, 1, 1)}},
	})
	if r.Len() != 1 {
		t.Errorf("indexed = %d, want 1", r.Len())
	}
}
