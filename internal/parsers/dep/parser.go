// Package dep parses actual departure reports (IDEP telegrams).
package dep

import (
	"strings"

	"shr_parser/internal/patterns"
	"shr_parser/internal/registry"
	"shr_parser/internal/telegram"
)

// Parser parses departure reports: -TITLE IDEP -SID ... -ADD 250201
// -ATD 0705 -ADEPZ 4408N04308E ...
type Parser struct{}

func init() {
	registry.Register(&Parser{})
}

func (p *Parser) Name() string        { return "dep" }
func (p *Parser) Kind() telegram.Kind { return telegram.KindDEP }
func (p *Parser) Priority() int       { return 20 }

func (p *Parser) QuickCheck(text string) bool {
	return strings.Contains(text, "IDEP") || strings.Contains(text, "ATD")
}

func (p *Parser) Parse(msg *telegram.RawMessage) *telegram.Parsed {
	tokens := telegram.Tokenize(msg.Text)
	parsed := &telegram.Parsed{Raw: msg.Text}
	telegram.Classify(tokens, parsed)

	if parsed.Kind == telegram.KindSHR {
		return nil
	}
	if parsed.First("TITLE") != "IDEP" && parsed.First(telegram.TagATD) == "" {
		return nil
	}
	parsed.Kind = telegram.KindDEP

	telegram.DecodeCommon(parsed, msg)

	if t := telegram.DecodeDatedClock(parsed, msg, telegram.TagADD, telegram.TagATD); t != nil {
		parsed.TakeoffTime = t
		parsed.Actual = true
	}
	if v := parsed.First(telegram.TagADEPZ); v != "" {
		if lat, lon, err := patterns.ParseCoordinate(v); err == nil {
			parsed.TakeoffPoint = &telegram.Point{Lon: lon, Lat: lat}
		} else {
			parsed.AddError(telegram.TagADEPZ, v, err.Error())
		}
	}

	return parsed
}
