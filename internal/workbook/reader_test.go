package workbook

import (
	"io"
	"strings"
	"testing"
	"time"
)

func readAll(t *testing.T, r Reader) []Row {
	t.Helper()
	var rows []Row
	for {
		row, err := r.Read()
		if err == io.EOF {
			return rows
		}
		if err != nil {
			t.Fatalf("Read error: %v", err)
		}
		rows = append(rows, *row)
	}
}

func TestJSONLReader(t *testing.T) {
	input := `{"sheet":"List1","row":2,"text":"(SHR-ZZZZZ SID/1)","date":"2024-01-05","region":"Moscow"}

{"list":"List2","shr":"(SHR-ZZZZZ SID/2)"}
`
	rows := readAll(t, NewJSONLReader(strings.NewReader(input)))
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (blank lines skipped)", len(rows))
	}

	first := rows[0]
	if first.Sheet != "List1" || first.Index != 2 || first.RegionHint != "Moscow" {
		t.Errorf("first row = %+v", first)
	}
	want := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	if first.FlightDate == nil || !first.FlightDate.Equal(want) {
		t.Errorf("flight date = %v, want %v", first.FlightDate, want)
	}

	// Alias keys and sequential fallback numbering.
	second := rows[1]
	if second.Sheet != "List2" || second.Text != "(SHR-ZZZZZ SID/2)" {
		t.Errorf("second row = %+v", second)
	}
	if second.Index != 2 {
		t.Errorf("fallback index = %d, want 2", second.Index)
	}
}

func TestJSONLReaderBadLine(t *testing.T) {
	r := NewJSONLReader(strings.NewReader("{not json}\n"))
	if _, err := r.Read(); err == nil {
		t.Error("bad JSON line accepted")
	}
}

func TestCSVReader(t *testing.T) {
	input := "Sheet,Row,Text,Date,Region\n" +
		"List1,2,(SHR-ZZZZZ SID/1),02.01.2024,Moscow\n" +
		"List1,,(SHR-ZZZZZ SID/2),,\n"

	rows := readAll(t, NewCSVReader(strings.NewReader(input)))
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	first := rows[0]
	if first.Sheet != "List1" || first.Index != 2 || first.RegionHint != "Moscow" {
		t.Errorf("first row = %+v", first)
	}
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if first.FlightDate == nil || !first.FlightDate.Equal(want) {
		t.Errorf("flight date = %v, want %v (dotted layout)", first.FlightDate, want)
	}

	// Missing row number falls back to the running sequence.
	if rows[1].Index != 2 {
		t.Errorf("fallback index = %d, want 2", rows[1].Index)
	}
	if rows[1].FlightDate != nil {
		t.Errorf("empty date parsed to %v", rows[1].FlightDate)
	}
}

func TestCSVReaderRequiresTextColumn(t *testing.T) {
	r := NewCSVReader(strings.NewReader("a,b,c\n1,2,3\n"))
	if _, err := r.Read(); err == nil {
		t.Error("header without a text column accepted")
	}
}

func TestParseRowDate(t *testing.T) {
	if d := parseRowDate("2024-01-05"); d == nil || d.Day() != 5 {
		t.Errorf("ISO date = %v", d)
	}
	if d := parseRowDate("05.01.2024"); d == nil || d.Day() != 5 {
		t.Errorf("dotted date = %v", d)
	}
	if d := parseRowDate("yesterday"); d != nil {
		t.Errorf("garbage date parsed to %v", d)
	}
}
