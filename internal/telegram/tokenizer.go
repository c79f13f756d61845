package telegram

import (
	"regexp"
	"strings"
)

// Tokens is the segment-level view of a telegram before field decoding.
// Header is the portion before the first dash-delimited segment; Segments
// holds the remaining segments in message order with the leading dash
// stripped.
type Tokens struct {
	Header   string
	Segments []string
}

// Segments are introduced by a dash at the start of a line or after
// whitespace. Continuation lines without a leading dash are joined to the
// open segment (workbook cells wrap long telegrams arbitrarily).
var segmentStartRe = regexp.MustCompile(`(^|[ \t\n])-`)

// fieldKeyRe finds KEY/ tokens inside a segment: two or more uppercase
// letters followed by a slash, not preceded by another key character.
var fieldKeyRe = regexp.MustCompile(`([A-Z]{2,})/`)

// tagValueRe matches a segment that is a single dash-prefixed tag with a
// space- or dash-separated value, e.g. "SID 7772187998" or
// "DEP- 120000 550000N0370000E".
var tagValueRe = regexp.MustCompile(`^([A-Z]{2,}[0-9]?)[ \-]+(.+)$`)

// timeCodeRe matches location+time codes such as ZZZZ0705 or UUWW1200.
var timeCodeRe = regexp.MustCompile(`^[A-Z]{2,4}\d{4}$`)

// routeRe matches route/level segments, which start with a cruising speed or
// level designator (M0050/M0150 style).
var routeRe = regexp.MustCompile(`^M[A-Z0-9/ .]+`)

// Tokenize splits one raw telegram into header and segments. Wrapping
// parentheses around the whole message are stripped first.
func Tokenize(raw string) *Tokens {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") {
		text = strings.TrimSpace(text[1 : len(text)-1])
	}
	text = strings.ReplaceAll(text, "\r", "")

	marks := segmentStartRe.FindAllStringSubmatchIndex(text, -1)
	tokens := &Tokens{}
	if len(marks) == 0 {
		tokens.Header = collapseSpace(text)
		return tokens
	}

	tokens.Header = collapseSpace(text[:marks[0][0]])
	for i, m := range marks {
		start := m[1] // just past the dash
		end := len(text)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		seg := collapseSpace(text[start:end])
		if seg == "" {
			continue
		}
		tokens.Segments = append(tokens.Segments, seg)
	}
	return tokens
}

// Classify distributes tokenized segments into the Parsed structure:
// time codes fill the validity window, M-prefixed segments are route data,
// KEY/value pairs and TAG value segments become fields, the rest is kept
// verbatim as unparsed.
func Classify(tokens *Tokens, p *Parsed) {
	if tokens.Header != "" {
		headerKind, addressee := splitHeader(tokens.Header)
		if headerKind != "" && p.Kind == KindUnknown {
			p.Kind = Kind(headerKind)
		}
		p.Addressee = CleanCyrillicDigits(addressee)
	}

	for i, seg := range tokens.Segments {
		seg := CleanCyrillicDigits(seg)
		switch {
		case i == 0 && tokens.Header == "" && headerSegmentRe.MatchString(seg):
			headerKind, addressee := splitHeader(seg)
			if p.Kind == KindUnknown {
				p.Kind = Kind(headerKind)
			}
			if p.Addressee == "" {
				p.Addressee = addressee
			}
		case timeCodeRe.MatchString(seg):
			switch {
			case p.ValidFrom == "":
				p.ValidFrom = seg
			case p.ValidTo == "":
				p.ValidTo = seg
			default:
				p.ExtraTimeCodes = append(p.ExtraTimeCodes, seg)
			}
		case routeRe.MatchString(seg):
			p.RouteSegments = append(p.RouteSegments, seg)
		case fieldKeyRe.MatchString(seg):
			for _, kv := range extractPairs(seg) {
				p.AddField(kv[0], kv[1])
			}
		default:
			if m := tagValueRe.FindStringSubmatch(seg); m != nil {
				p.AddField(m[1], strings.TrimSpace(m[2]))
			} else {
				p.Unparsed = append(p.Unparsed, seg)
			}
		}
	}
}

// splitHeader parses "SHR-FLT001" style headers into kind and addressee.
func splitHeader(seg string) (kind, addressee string) {
	parts := strings.Split(seg, "-")
	nonEmpty := parts[:0]
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	if len(nonEmpty) == 0 {
		return "", ""
	}
	kind = strings.TrimSpace(nonEmpty[0])
	if len(nonEmpty) > 1 {
		addressee = strings.TrimSpace(strings.Join(nonEmpty[1:], "-"))
	}
	return kind, addressee
}

// headerSegmentRe matches a leading header segment: the message kind plus an
// optional single-token addressee ("SHR-FLT001"). A kind word followed by
// free text ("DEP- 120000 ...") is a movement field, not a header.
var headerSegmentRe = regexp.MustCompile(`^(?:SHR|DEP|ARR)(?:-\S+)?$`)

// extractPairs scans one segment for KEY/value pairs. A value runs from the
// slash to the start of the next key or the end of the segment.
func extractPairs(seg string) [][2]string {
	all := fieldKeyRe.FindAllStringSubmatchIndex(seg, -1)
	// Keys preceded by an alphanumeric rune are value text, not keys
	// (e.g. the AB/ inside "OPR/LAB/X"). Go regexp has no lookbehind, so
	// filter here before computing value boundaries.
	matches := all[:0]
	for _, m := range all {
		if m[0] > 0 {
			prev := seg[m[0]-1]
			if prev >= 'A' && prev <= 'Z' || prev >= '0' && prev <= '9' {
				continue
			}
		}
		matches = append(matches, m)
	}

	var pairs [][2]string
	for i, m := range matches {
		key := seg[m[2]:m[3]]
		valueStart := m[1]
		valueEnd := len(seg)
		if i+1 < len(matches) {
			valueEnd = matches[i+1][0]
		}
		value := strings.TrimSpace(seg[valueStart:valueEnd])
		if value != "" {
			pairs = append(pairs, [2]string{key, value})
		}
	}
	return pairs
}

var spaceRunRe = regexp.MustCompile(`\s+`)

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(s, " "))
}
