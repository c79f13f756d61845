// Package geo builds administrative-region reference data from raw boundary
// features and resolves points against it.
package geo

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Region is one administrative region: a unique code, a display name and a
// valid multi-polygon boundary in geographic coordinates.
type Region struct {
	Code     string
	Name     string
	Geometry orb.MultiPolygon
}

// Attribute key aliases, tried in order, case-insensitively. Boundary
// datasets disagree on attribute naming; the first present key wins.
var (
	codeKeys  = []string{"ref", "iso3166-2", "code", "region_code"}
	nameKeys  = []string{"name", "name:en", "official_name", "region_name"}
	levelKeys = []string{"admin_level", "adminlevel", "level"}
)

// NormalizeStats reports what happened to the source features.
type NormalizeStats struct {
	Features int // features seen
	Grouped  int // features aggregated into regions
	Skipped  int // wrong level, unusable attributes, or unrepairable geometry
}

// Normalize turns raw boundary features into regions: it keeps only features
// at the target admin level, repairs their polygons, groups them by resolved
// code and unions each group into one multi-polygon. The result is sorted by
// code and fully deterministic for identical input, so re-import is
// idempotent.
func Normalize(fc *geojson.FeatureCollection, targetLevel int) ([]Region, NormalizeStats) {
	type group struct {
		name  string
		polys []orb.Polygon
	}
	groups := make(map[string]*group)
	var stats NormalizeStats

	for _, f := range fc.Features {
		stats.Features++

		level, ok := propInt(f.Properties, levelKeys)
		if !ok || level != targetLevel {
			stats.Skipped++
			continue
		}

		name, _ := propString(f.Properties, nameKeys)
		code, hasCode := propString(f.Properties, codeKeys)
		if !hasCode {
			if name == "" {
				stats.Skipped++
				continue
			}
			code = SyntheticCode(name)
		}

		polys := repairedPolygons(f.Geometry)
		if len(polys) == 0 {
			stats.Skipped++
			continue
		}

		g := groups[code]
		if g == nil {
			g = &group{name: name}
			groups[code] = g
		}
		if g.name == "" {
			g.name = name
		}
		g.polys = append(g.polys, polys...)
		stats.Grouped++
	}

	regions := make([]Region, 0, len(groups))
	for code, g := range groups {
		regions = append(regions, Region{
			Code:     code,
			Name:     g.name,
			Geometry: unionPolygons(g.polys),
		})
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Code < regions[j].Code })
	return regions, stats
}

// SyntheticCode derives a stable region code from a name when the dataset
// carries no explicit code: sha1 of the uppercased name, truncated. Must be
// deterministic across runs so re-import upserts instead of duplicating.
func SyntheticCode(name string) string {
	sum := sha1.Sum([]byte(strings.ToUpper(strings.TrimSpace(name))))
	return "X" + hex.EncodeToString(sum[:])[:10]
}

// repairedPolygons extracts the polygonal parts of a geometry and makes each
// valid: rings closed, degenerate rings dropped, exterior counter-clockwise,
// holes clockwise. Non-polygonal parts are discarded.
func repairedPolygons(g orb.Geometry) []orb.Polygon {
	switch geom := g.(type) {
	case orb.Polygon:
		if p, ok := repairPolygon(geom); ok {
			return []orb.Polygon{p}
		}
	case orb.MultiPolygon:
		var out []orb.Polygon
		for _, poly := range geom {
			if p, ok := repairPolygon(poly); ok {
				out = append(out, p)
			}
		}
		return out
	case orb.Collection:
		var out []orb.Polygon
		for _, sub := range geom {
			out = append(out, repairedPolygons(sub)...)
		}
		return out
	}
	return nil
}

const minRingArea = 1e-12

func repairPolygon(poly orb.Polygon) (orb.Polygon, bool) {
	var out orb.Polygon
	for i, ring := range poly {
		r := repairRing(ring)
		if r == nil {
			if i == 0 {
				return nil, false // no usable exterior
			}
			continue
		}
		want := orb.CCW
		if i > 0 {
			want = orb.CW
		}
		if r.Orientation() != want {
			r.Reverse()
		}
		out = append(out, r)
	}
	return out, len(out) > 0
}

func repairRing(ring orb.Ring) orb.Ring {
	if len(ring) == 0 {
		return nil
	}
	r := make(orb.Ring, len(ring))
	copy(r, ring)
	if !r.Closed() {
		r = append(r, r[0])
	}
	if len(r) < 4 {
		return nil
	}
	if math.Abs(planar.Area(r)) < minRingArea {
		return nil
	}
	return r
}

// unionPolygons aggregates a group's polygons into one multi-polygon. The
// polygons are sorted by bounding box then first vertex, which keeps the
// output byte-for-byte stable across imports of the same dataset. Point
// containment over the set is equivalent to containment over the dissolved
// union, so overlapping source features need no geometric dissolve.
func unionPolygons(polys []orb.Polygon) orb.MultiPolygon {
	sorted := make([]orb.Polygon, len(polys))
	copy(sorted, polys)
	sort.Slice(sorted, func(i, j int) bool {
		bi, bj := sorted[i].Bound(), sorted[j].Bound()
		if bi.Min != bj.Min {
			if bi.Min[0] != bj.Min[0] {
				return bi.Min[0] < bj.Min[0]
			}
			return bi.Min[1] < bj.Min[1]
		}
		if bi.Max != bj.Max {
			if bi.Max[0] != bj.Max[0] {
				return bi.Max[0] < bj.Max[0]
			}
			return bi.Max[1] < bj.Max[1]
		}
		return fmt.Sprint(sorted[i]) < fmt.Sprint(sorted[j])
	})
	return orb.MultiPolygon(sorted)
}

// propString finds the first present attribute among keys, matching keys
// case-insensitively.
func propString(props geojson.Properties, keys []string) (string, bool) {
	for _, key := range keys {
		for k, v := range props {
			if !strings.EqualFold(k, key) {
				continue
			}
			switch val := v.(type) {
			case string:
				if s := strings.TrimSpace(val); s != "" {
					return s, true
				}
			case float64:
				return strconv.FormatFloat(val, 'f', -1, 64), true
			}
		}
	}
	return "", false
}

func propInt(props geojson.Properties, keys []string) (int, bool) {
	s, ok := propString(props, keys)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}
