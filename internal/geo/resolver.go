package geo

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Match is a successful region resolution.
type Match struct {
	Code string
	Name string

	// Ambiguous reports that more than one region claimed the point
	// (malformed overlapping boundaries). The lexicographically lowest code
	// wins deterministically; callers surface this as a warning, not an
	// error.
	Ambiguous bool
}

type indexedRegion struct {
	code  string
	name  string
	geom  orb.MultiPolygon
	bound orb.Bound
}

// Resolver answers point-in-region queries against an immutable snapshot of
// the region set. Regions are held sorted by code with precomputed bounding
// boxes, so a lookup prefilters by box before running the containment test.
type Resolver struct {
	regions []indexedRegion
}

// NewResolver builds a resolver over the given regions.
func NewResolver(regions []Region) *Resolver {
	idx := make([]indexedRegion, 0, len(regions))
	for _, r := range regions {
		if len(r.Geometry) == 0 {
			continue
		}
		idx = append(idx, indexedRegion{
			code:  r.Code,
			name:  r.Name,
			geom:  r.Geometry,
			bound: r.Geometry.Bound(),
		})
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i].code < idx[j].code })
	return &Resolver{regions: idx}
}

// Len returns the number of indexed regions.
func (r *Resolver) Len() int { return len(r.regions) }

// Resolve returns the region containing the point (boundary-inclusive), or
// ok=false when no region covers it — an expected outcome for points outside
// the covered territory. When several regions claim the point the first in
// code order wins and the match is flagged ambiguous.
func (r *Resolver) Resolve(lon, lat float64) (Match, bool) {
	pt := orb.Point{lon, lat}
	var match Match
	found := false

	for i := range r.regions {
		reg := &r.regions[i]
		if !reg.bound.Contains(pt) {
			continue
		}
		if !planar.MultiPolygonContains(reg.geom, pt) {
			continue
		}
		if !found {
			match = Match{Code: reg.code, Name: reg.name}
			found = true
			continue
		}
		match.Ambiguous = true
		break // regions are code-sorted; the winner is already fixed
	}
	return match, found
}
