// Package shr parses planned flight notification telegrams (SHR).
package shr

import (
	"strings"

	"shr_parser/internal/registry"
	"shr_parser/internal/telegram"
)

// Parser parses SHR messages: a header with the addressee, a validity
// window, field-18 style KEY/value pairs and optional route segments.
// Inline -DEP-/-ARR- movement fields with time codes mark the record as an
// actual report rather than a plan.
type Parser struct{}

func init() {
	registry.Register(&Parser{})
}

func (p *Parser) Name() string        { return "shr" }
func (p *Parser) Kind() telegram.Kind { return telegram.KindSHR }
func (p *Parser) Priority() int       { return 10 }

func (p *Parser) QuickCheck(text string) bool {
	return strings.Contains(text, "SHR")
}

func (p *Parser) Parse(msg *telegram.RawMessage) *telegram.Parsed {
	tokens := telegram.Tokenize(msg.Text)
	parsed := &telegram.Parsed{Raw: msg.Text}
	telegram.Classify(tokens, parsed)

	if parsed.Kind != telegram.KindSHR {
		return nil
	}

	telegram.DecodeCommon(parsed, msg)

	if v := parsed.First(telegram.TagDEP); v != "" {
		telegram.DecodeMovement(parsed, msg, telegram.TagDEP, v, false)
	}
	if v := parsed.First(telegram.TagDEST); v != "" {
		telegram.DecodeMovement(parsed, msg, telegram.TagDEST, v, true)
	}
	if v := parsed.First(telegram.TagARR); v != "" {
		telegram.DecodeMovement(parsed, msg, telegram.TagARR, v, true)
	}

	// Planned window fills whatever the movement fields left open.
	telegram.DecodeWindow(parsed, msg)

	return parsed
}
