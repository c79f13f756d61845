// Package telegram provides flight-plan telegram types and the tag-delimited
// field tokenizer shared by all message-kind parsers.
package telegram

import (
	"time"
)

// Kind identifies the telegram message kind.
type Kind string

const (
	KindSHR     Kind = "SHR" // planned flight notification
	KindDEP     Kind = "DEP" // actual departure report
	KindARR     Kind = "ARR" // actual arrival report
	KindUnknown Kind = ""
)

// RawMessage is one ingested telegram text with row provenance.
// It is created once per workbook row and never mutated.
type RawMessage struct {
	Text       string     `json:"text"`
	ReceivedAt time.Time  `json:"received_at"`
	Sender     string     `json:"sender,omitempty"`
	Sheet      string     `json:"sheet,omitempty"`
	Row        int        `json:"row"`
	FlightDate *time.Time `json:"flight_date,omitempty"` // date column from the workbook, when present
	RegionHint string     `json:"region_hint,omitempty"`
}

// FieldError records one unparseable field: the offending raw substring and
// the reason. Field errors degrade a row to partial success, they never abort
// the message.
type FieldError struct {
	Tag    string `json:"tag"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// Point is a geographic coordinate in signed decimal degrees.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Parsed is the structured result of parsing one telegram.
// Fields preserves every KEY/value pair in first-seen order; unknown tags
// pass through so downstream stages can surface unparsed extra data.
type Parsed struct {
	Kind      Kind   `json:"kind"`
	Addressee string `json:"addressee,omitempty"`

	Fields     map[string][]string `json:"fields,omitempty"`
	FieldOrder []string            `json:"-"`

	ValidFrom      string   `json:"valid_from,omitempty"` // raw AAAAHHMM code
	ValidTo        string   `json:"valid_to,omitempty"`
	ExtraTimeCodes []string `json:"extra_time_codes,omitempty"`
	RouteSegments  []string `json:"route_segments,omitempty"`
	Unparsed       []string `json:"unparsed_segments,omitempty"`

	// Decoded values. Nil/zero when the source field was absent or failed.
	FlightID     string     `json:"flight_id,omitempty"`
	DOF          *time.Time `json:"dof,omitempty"` // date of flight, UTC midnight
	TakeoffTime  *time.Time `json:"takeoff_time,omitempty"`
	LandingTime  *time.Time `json:"landing_time,omitempty"`
	TakeoffPoint *Point     `json:"takeoff_point,omitempty"`
	LandingPoint *Point     `json:"landing_point,omitempty"`
	Operator     string     `json:"operator,omitempty"`
	UavType      string     `json:"uav_type,omitempty"`
	AltitudeM    float64    `json:"altitude_m,omitempty"`
	EETMinutes   int        `json:"eet_minutes,omitempty"`

	// Actual reports true when the times/points come from a DEP/ARR report
	// rather than the planned SHR window.
	Actual bool `json:"actual"`

	Errors []FieldError `json:"errors,omitempty"`
	Raw    string       `json:"raw"`
}

// AddField appends a value under tag, preserving first-seen tag order.
func (p *Parsed) AddField(tag, value string) {
	if p.Fields == nil {
		p.Fields = make(map[string][]string)
	}
	if _, seen := p.Fields[tag]; !seen {
		p.FieldOrder = append(p.FieldOrder, tag)
	}
	p.Fields[tag] = append(p.Fields[tag], value)
}

// First returns the first value recorded for tag, trimmed, or "".
func (p *Parsed) First(tag string) string {
	vals := p.Fields[tag]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// AddError records a field-level parse failure.
func (p *Parsed) AddError(tag, raw, reason string) {
	p.Errors = append(p.Errors, FieldError{Tag: tag, Raw: raw, Reason: reason})
}

// TotalFailure reports whether the message yielded no identifying data at
// all: no flight id, no recognized fields. Such rows are rejected.
func (p *Parsed) TotalFailure() bool {
	return p.FlightID == "" && len(p.Fields) == 0 && p.ValidFrom == "" && len(p.RouteSegments) == 0
}
