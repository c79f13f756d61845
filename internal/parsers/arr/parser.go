// Package arr parses actual arrival reports (IARR telegrams).
package arr

import (
	"strings"

	"shr_parser/internal/patterns"
	"shr_parser/internal/registry"
	"shr_parser/internal/telegram"
)

// Parser parses arrival reports: -TITLE IARR -SID ... -ADA 250201
// -ATA 0920 -ADARRZ 4408N04308E ...
type Parser struct{}

func init() {
	registry.Register(&Parser{})
}

func (p *Parser) Name() string        { return "arr" }
func (p *Parser) Kind() telegram.Kind { return telegram.KindARR }
func (p *Parser) Priority() int       { return 21 }

func (p *Parser) QuickCheck(text string) bool {
	return strings.Contains(text, "IARR") || strings.Contains(text, "ATA")
}

func (p *Parser) Parse(msg *telegram.RawMessage) *telegram.Parsed {
	tokens := telegram.Tokenize(msg.Text)
	parsed := &telegram.Parsed{Raw: msg.Text}
	telegram.Classify(tokens, parsed)

	if parsed.Kind == telegram.KindSHR {
		return nil
	}
	if parsed.First("TITLE") != "IARR" && parsed.First(telegram.TagATA) == "" {
		return nil
	}
	parsed.Kind = telegram.KindARR

	telegram.DecodeCommon(parsed, msg)

	if t := telegram.DecodeDatedClock(parsed, msg, telegram.TagADA, telegram.TagATA); t != nil {
		parsed.LandingTime = t
		parsed.Actual = true
	}
	if v := parsed.First(telegram.TagADARRZ); v != "" {
		if lat, lon, err := patterns.ParseCoordinate(v); err == nil {
			parsed.LandingPoint = &telegram.Point{Lon: lon, Lat: lat}
		} else {
			parsed.AddError(telegram.TagADARRZ, v, err.Error())
		}
	}

	return parsed
}
