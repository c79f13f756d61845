package telegram

import (
	"testing"
)

const sampleSHR = `(SHR-ZZZZZ
-ZZZZ0705
-M0016/M0025 /ZONA R0,5 440846N0430056E/
-ZZZZ0900
-DEP/4408N04308E DEST/4408N04308E DOF/240105 EET/0155
OPR/STATE RESCUE TYP/BLA REG/00724 SID/7772187998)`

func TestTokenizeSHR(t *testing.T) {
	tokens := Tokenize(sampleSHR)

	if tokens.Header != "SHR-ZZZZZ" {
		t.Errorf("header = %q, want SHR-ZZZZZ", tokens.Header)
	}
	if len(tokens.Segments) != 4 {
		t.Fatalf("got %d segments, want 4: %q", len(tokens.Segments), tokens.Segments)
	}
	if tokens.Segments[0] != "ZZZZ0705" {
		t.Errorf("segment 0 = %q, want ZZZZ0705", tokens.Segments[0])
	}
	// Continuation line without a leading dash joins the open segment.
	if got := tokens.Segments[3]; got != "DEP/4408N04308E DEST/4408N04308E DOF/240105 EET/0155 OPR/STATE RESCUE TYP/BLA REG/00724 SID/7772187998" {
		t.Errorf("segment 3 = %q", got)
	}
}

func TestClassifySHR(t *testing.T) {
	tokens := Tokenize(sampleSHR)
	p := &Parsed{Raw: sampleSHR}
	Classify(tokens, p)

	if p.Kind != KindSHR {
		t.Errorf("kind = %q, want SHR", p.Kind)
	}
	if p.Addressee != "ZZZZZ" {
		t.Errorf("addressee = %q, want ZZZZZ", p.Addressee)
	}
	if p.ValidFrom != "ZZZZ0705" || p.ValidTo != "ZZZZ0900" {
		t.Errorf("window = %q..%q, want ZZZZ0705..ZZZZ0900", p.ValidFrom, p.ValidTo)
	}
	if len(p.RouteSegments) != 1 {
		t.Errorf("route segments = %q, want one", p.RouteSegments)
	}

	wantFields := map[string]string{
		"DEP":  "4408N04308E",
		"DEST": "4408N04308E",
		"DOF":  "240105",
		"EET":  "0155",
		"OPR":  "STATE RESCUE",
		"TYP":  "BLA",
		"REG":  "00724",
		"SID":  "7772187998",
	}
	for tag, want := range wantFields {
		if got := p.First(tag); got != want {
			t.Errorf("field %s = %q, want %q", tag, got, want)
		}
	}
	if len(p.Unparsed) != 0 {
		t.Errorf("unexpected unparsed segments: %q", p.Unparsed)
	}
}

func TestClassifyInlineMovementFields(t *testing.T) {
	// A leading kind word with free text after the dash is a movement field,
	// not a header.
	raw := "-SHR-FLT001 -DEP- 120000 550000N0370000E -ARR- 130000 551000N0371000E"
	tokens := Tokenize(raw)
	p := &Parsed{Raw: raw}
	Classify(tokens, p)

	if p.Kind != KindSHR {
		t.Errorf("kind = %q, want SHR", p.Kind)
	}
	if p.Addressee != "FLT001" {
		t.Errorf("addressee = %q, want FLT001", p.Addressee)
	}
	if got := p.First(TagDEP); got != "120000 550000N0370000E" {
		t.Errorf("DEP = %q", got)
	}
	if got := p.First(TagARR); got != "130000 551000N0371000E" {
		t.Errorf("ARR = %q", got)
	}
}

func TestClassifyRepeatedTags(t *testing.T) {
	raw := "(SHR-TEST1 -DEP/4408N04308E -DEP/4409N04309E -DOF/240105)"
	tokens := Tokenize(raw)
	p := &Parsed{}
	Classify(tokens, p)

	vals := p.Fields[TagDEP]
	if len(vals) != 2 {
		t.Fatalf("DEP values = %q, want 2", vals)
	}
	// First wins downstream.
	if p.First(TagDEP) != "4408N04308E" {
		t.Errorf("First(DEP) = %q, want 4408N04308E", p.First(TagDEP))
	}
}

func TestExtractPairsValueBoundaries(t *testing.T) {
	// The slash inside a value must not start a new key, and a key preceded
	// by an alphanumeric rune is value text.
	pairs := extractPairs("OPR/LAB/X TYP/BLA")
	if len(pairs) != 2 {
		t.Fatalf("pairs = %v, want 2", pairs)
	}
	if pairs[0] != [2]string{"OPR", "LAB/X"} {
		t.Errorf("pairs[0] = %v, want [OPR LAB/X]", pairs[0])
	}
	if pairs[1] != [2]string{"TYP", "BLA"} {
		t.Errorf("pairs[1] = %v, want [TYP BLA]", pairs[1])
	}
}

func TestCleanCyrillicDigits(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"digits inside Cyrillic word restored", "М4С", "МЧС"},
		{"zero in Cyrillic word", "РОССИ0", "РОССИО"},
		{"latin token untouched", "REG/00724", "REG/00724"},
		{"pure number untouched", "7772187998", "7772187998"},
		{"mixed sentence", "ОПЕРАТОР М4С SID/123", "ОПЕРАТОР МЧС SID/123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCyrillicDigits(tt.input); got != tt.want {
				t.Errorf("CleanCyrillicDigits(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
