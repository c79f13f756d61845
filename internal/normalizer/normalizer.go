// Package normalizer merges parsed telegrams that share a flight identifier
// into one canonical flight record.
package normalizer

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"shr_parser/internal/geo"
	"shr_parser/internal/telegram"
)

// Time source flags persisted with each flight.
const (
	TimeSourceActual    = "actual"    // times came from DEP/ARR reports
	TimeSourceEstimated = "estimated" // planned SHR window used as substitute
)

const (
	maxIdentifierLen = 64
	unknownCode      = "UNKNOWN"
)

// Flight is a normalized flight candidate ready for persistence. Nullable
// values stay nil when the telegrams did not supply them; the record is still
// persisted with warnings attached, never dropped.
type Flight struct {
	FlightID string

	OperatorCode string
	OperatorName string
	UavTypeCode  string
	UavTypeName  string

	TakeoffTime  *time.Time
	LandingTime  *time.Time
	Duration     *time.Duration
	TakeoffPoint *telegram.Point
	LandingPoint *telegram.Point
	RegionFrom   *string
	RegionTo     *string

	TimeSource string
	Warnings   []string

	Raw *telegram.RawMessage
}

// RegionResolver resolves a point to a region; the production implementation
// is geo.Resolver.
type RegionResolver interface {
	Resolve(lon, lat float64) (geo.Match, bool)
}

// Normalizer turns groups of parsed telegrams into flight candidates.
type Normalizer struct {
	resolver RegionResolver
	log      *zap.Logger
}

// New creates a Normalizer. resolver may be nil when no region data is
// loaded; flights then keep null region references.
func New(resolver RegionResolver, log *zap.Logger) *Normalizer {
	return &Normalizer{resolver: resolver, log: log}
}

// Normalize merges the telegrams of one flight (an SHR and optionally its
// DEP/ARR reports) into a flight candidate. Actual movement values always
// win over the planned window; planned-only records are flagged estimated.
func (n *Normalizer) Normalize(group []*telegram.Parsed, raw *telegram.RawMessage) (*Flight, error) {
	if len(group) == 0 {
		return nil, fmt.Errorf("empty telegram group")
	}

	f := &Flight{Raw: raw, TimeSource: TimeSourceEstimated}

	takeoffActual, landingActual := false, false
	var operatorRaw, uavTypeRaw string

	for _, p := range group {
		if f.FlightID == "" && p.FlightID != "" {
			f.FlightID = p.FlightID
		}
		if operatorRaw == "" {
			operatorRaw = p.Operator
		}
		if uavTypeRaw == "" {
			uavTypeRaw = p.UavType
		}

		mergeSide(&f.TakeoffTime, &f.TakeoffPoint, &takeoffActual, p.TakeoffTime, p.TakeoffPoint, p.Actual)
		mergeSide(&f.LandingTime, &f.LandingPoint, &landingActual, p.LandingTime, p.LandingPoint, p.Actual)

		for _, fe := range p.Errors {
			f.Warnings = append(f.Warnings, fmt.Sprintf("%s %q: %s", fe.Tag, fe.Raw, fe.Reason))
		}
		if len(p.Unparsed) > 0 {
			f.Warnings = append(f.Warnings, fmt.Sprintf("unparsed extra data: %s", strings.Join(p.Unparsed, "; ")))
		}
	}

	if f.FlightID == "" {
		// Last-resort synthetic identifier from row provenance.
		f.FlightID = fmt.Sprintf("SHR-%s-%d", raw.Sheet, raw.Row)
	}
	f.FlightID = NormalizeIdentifier(f.FlightID, maxIdentifierLen)

	if takeoffActual || landingActual {
		f.TimeSource = TimeSourceActual
	} else if f.TakeoffTime != nil || f.LandingTime != nil {
		f.Warnings = append(f.Warnings, "times estimated from planned window")
	}

	if f.TakeoffTime != nil && f.LandingTime != nil {
		d := f.LandingTime.Sub(*f.TakeoffTime)
		if d >= 0 {
			f.Duration = &d
		} else {
			f.Warnings = append(f.Warnings, "landing precedes takeoff; duration dropped")
		}
	}

	if operatorRaw == "" {
		operatorRaw = unknownCode
	}
	if uavTypeRaw == "" {
		uavTypeRaw = unknownCode
	}
	f.OperatorName = truncate(operatorRaw, 255)
	f.OperatorCode = SlugCode(operatorRaw, 32)
	f.UavTypeName = truncate(uavTypeRaw, 255)
	f.UavTypeCode = SlugCode(uavTypeRaw, 64)

	n.resolveRegions(f)
	return f, nil
}

// mergeSide applies the actual-over-planned precedence for one movement side.
func mergeSide(t **time.Time, pt **telegram.Point, sideActual *bool, newT *time.Time, newPt *telegram.Point, actual bool) {
	if newT != nil {
		if *t == nil || (actual && !*sideActual) {
			*t = newT
			if actual {
				*sideActual = true
			}
		}
	}
	if newPt != nil && (*pt == nil || actual) {
		*pt = newPt
	}
}

func (n *Normalizer) resolveRegions(f *Flight) {
	if n.resolver == nil {
		return
	}
	if f.TakeoffPoint != nil {
		if m, ok := n.resolver.Resolve(f.TakeoffPoint.Lon, f.TakeoffPoint.Lat); ok {
			code := m.Code
			f.RegionFrom = &code
			if m.Ambiguous {
				f.Warnings = append(f.Warnings, fmt.Sprintf("takeoff region ambiguous, picked %s", m.Code))
			}
		}
	}
	if f.LandingPoint != nil {
		if m, ok := n.resolver.Resolve(f.LandingPoint.Lon, f.LandingPoint.Lat); ok {
			code := m.Code
			f.RegionTo = &code
			if m.Ambiguous {
				f.Warnings = append(f.Warnings, fmt.Sprintf("landing region ambiguous, picked %s", m.Code))
			}
		}
	}
}

var (
	spaceRunRe = regexp.MustCompile(`\s+`)
	nonSlugRe  = regexp.MustCompile(`[^A-Z0-9]+`)
)

// SlugCode derives a reference-table code from a free-text value: uppercase,
// non-alphanumeric runs collapsed to underscores, bounded length.
func SlugCode(value string, maxLen int) string {
	normalized := strings.ToUpper(strings.TrimSpace(spaceRunRe.ReplaceAllString(value, " ")))
	slug := strings.Trim(nonSlugRe.ReplaceAllString(normalized, "_"), "_")
	if slug == "" {
		return unknownCode
	}
	return truncate(slug, maxLen)
}

// NormalizeIdentifier collapses whitespace and bounds the identifier length.
// Overlong identifiers keep a stable sha1 suffix so distinct inputs stay
// distinct after truncation.
func NormalizeIdentifier(value string, maxLen int) string {
	normalized := strings.TrimSpace(spaceRunRe.ReplaceAllString(value, " "))
	if normalized == "" {
		normalized = unknownCode
	}
	if len(normalized) <= maxLen {
		return normalized
	}
	sum := sha1.Sum([]byte(normalized))
	suffix := hex.EncodeToString(sum[:])[:8]
	head := strings.TrimRight(normalized[:maxLen-9], " ")
	return head + "#" + suffix
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
