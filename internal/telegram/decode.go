package telegram

import (
	"regexp"
	"strings"
	"time"

	"shr_parser/internal/patterns"
)

// Field tags shared by the kind parsers. SHR carries the planned plan
// (field-18 style KEY/value pairs); IDEP/IARR reports carry the actual
// movement tags.
const (
	TagSID  = "SID"  // system flight identifier
	TagREG  = "REG"  // registration marks
	TagOPR  = "OPR"  // operator
	TagTYP  = "TYP"  // aircraft/uav type
	TagDOF  = "DOF"  // date of flight
	TagDEP  = "DEP"  // departure point (and optional time)
	TagDEST = "DEST" // destination point
	TagARR  = "ARR"  // arrival report inside an SHR message
	TagEET  = "EET"  // estimated elapsed time

	TagADD    = "ADD"    // actual date of departure
	TagATD    = "ATD"    // actual time of departure
	TagADEPZ  = "ADEPZ"  // departure point coordinates
	TagADA    = "ADA"    // actual date of arrival
	TagATA    = "ATA"    // actual time of arrival
	TagADARRZ = "ADARRZ" // arrival point coordinates
)

var (
	coordTokenRe = regexp.MustCompile(`^\d{4,6}[NS]\d{5,7}[EW]$`)
	clockTokenRe = regexp.MustCompile(`^\d{4}(\d{2})?$`)
	altTokenRe   = regexp.MustCompile(`\b([FASM]\d{3,4})\b`)
)

// DecodeCommon resolves the fields every kind shares: flight identity, date
// of flight, operator and type references, elapsed time and route altitude.
// Field-level failures are recorded on p, never returned as errors.
func DecodeCommon(p *Parsed, msg *RawMessage) {
	if v := p.First(TagSID); v != "" {
		p.FlightID = v
	} else if v := p.First(TagREG); v != "" {
		// REG may list several marks separated by commas; the first one
		// identifies the flight.
		p.FlightID = strings.TrimSpace(strings.SplitN(v, ",", 2)[0])
	} else if p.Addressee != "" {
		p.FlightID = p.Addressee
	}

	p.Operator = p.First(TagOPR)
	p.UavType = p.First(TagTYP)

	if v := p.First(TagDOF); v != "" {
		if t, _, err := patterns.ParseDate(v); err == nil {
			p.DOF = &t
		} else {
			p.AddError(TagDOF, v, err.Error())
		}
	}

	if v := p.First(TagEET); v != "" {
		decodeEET(p, v)
	}

	for _, seg := range p.RouteSegments {
		if m := altTokenRe.FindStringSubmatch(seg); m != nil {
			if meters, err := patterns.ParseAltitude(m[1]); err == nil {
				p.AltitudeM = meters
				break
			}
		}
	}
}

// BaseDate returns the date movement times anchor to: the workbook's flight
// date when present, otherwise the telegram's DOF.
func BaseDate(p *Parsed, msg *RawMessage) *time.Time {
	if msg != nil && msg.FlightDate != nil {
		return msg.FlightDate
	}
	return p.DOF
}

// DecodeMovement interprets the value of a departure/destination field. The
// value may hold a time code, a coordinate, an aerodrome designator, or any
// combination ("120000 550000N0370000E"). Decoded values land on the takeoff
// or landing side of p; a time code present in the value marks the side as an
// actual (reported) movement.
func DecodeMovement(p *Parsed, msg *RawMessage, tag, value string, landing bool) {
	var clock *patterns.ClockTime
	var point *Point

	for _, token := range strings.Fields(value) {
		switch {
		case coordTokenRe.MatchString(token):
			lat, lon, err := patterns.ParseCoordinate(token)
			if err != nil {
				p.AddError(tag, token, err.Error())
				continue
			}
			point = &Point{Lon: lon, Lat: lat}
		case clockTokenRe.MatchString(token):
			ct, err := patterns.ParseClock(token)
			if err != nil {
				p.AddError(tag, token, err.Error())
				continue
			}
			clock = &ct
		default:
			// Aerodrome designators (UUWW, ZZZZ) carry no position.
		}
	}

	var stamp *time.Time
	if clock != nil {
		if base := BaseDate(p, msg); base != nil {
			t := patterns.CombineDateTime(*base, *clock)
			stamp = &t
		} else {
			// A bare time with no date anchor is unusable; keep the point.
			p.AddError(tag, value, "time code without a date of flight")
		}
	}

	if landing {
		if point != nil {
			p.LandingPoint = point
		}
		if stamp != nil {
			p.LandingTime = stamp
			p.Actual = true
		}
	} else {
		if point != nil {
			p.TakeoffPoint = point
		}
		if stamp != nil {
			p.TakeoffTime = stamp
			p.Actual = true
		}
	}
}

// DecodeWindow converts the SHR validity window (AAAAHHMM codes) into
// planned takeoff/landing times. Planned values never overwrite actual ones.
func DecodeWindow(p *Parsed, msg *RawMessage) {
	base := BaseDate(p, msg)
	if base == nil {
		if p.ValidFrom != "" || p.ValidTo != "" {
			p.AddError("WINDOW", p.ValidFrom+" "+p.ValidTo, "validity window without a date of flight")
		}
		return
	}
	if p.ValidFrom != "" && p.TakeoffTime == nil {
		if ct, err := patterns.ParseClock(p.ValidFrom); err == nil {
			t := patterns.CombineDateTime(*base, ct)
			p.TakeoffTime = &t
		} else {
			p.AddError("WINDOW", p.ValidFrom, err.Error())
		}
	}
	if p.ValidTo != "" && p.LandingTime == nil {
		if ct, err := patterns.ParseClock(p.ValidTo); err == nil {
			t := patterns.CombineDateTime(*base, ct)
			p.LandingTime = &t
		} else {
			p.AddError("WINDOW", p.ValidTo, err.Error())
		}
	}
}

// DecodeDatedClock combines a date field and a time field (ADD/ATD or
// ADA/ATA pairs) into one timestamp.
func DecodeDatedClock(p *Parsed, msg *RawMessage, dateTag, timeTag string) *time.Time {
	timeVal := p.First(timeTag)
	if timeVal == "" {
		return nil
	}
	ct, err := patterns.ParseClock(timeVal)
	if err != nil {
		p.AddError(timeTag, timeVal, err.Error())
		return nil
	}

	var base *time.Time
	if dateVal := p.First(dateTag); dateVal != "" {
		if t, _, err := patterns.ParseDate(dateVal); err == nil {
			base = &t
		} else {
			p.AddError(dateTag, dateVal, err.Error())
		}
	}
	if base == nil {
		base = BaseDate(p, msg)
	}
	if base == nil {
		p.AddError(timeTag, timeVal, "time code without a date of flight")
		return nil
	}
	t := patterns.CombineDateTime(*base, ct)
	return &t
}

func decodeEET(p *Parsed, value string) {
	digits := value
	// Route EET entries prefix the fix designator: USSS0030.
	if len(value) > 4 {
		digits = value[len(value)-4:]
	}
	if minutes, err := patterns.ParseEET(digits); err == nil {
		p.EETMinutes = minutes
	} else {
		p.AddError(TagEET, value, err.Error())
	}
}
