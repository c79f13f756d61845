// Package workbook reads pre-extracted workbook rows from JSONL or CSV
// exports. Cell extraction from the spreadsheet itself happens upstream;
// this package consumes the flat row dumps that stage produces.
package workbook

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Row is one workbook row: the raw telegram text plus sheet provenance and
// optional per-sheet context.
type Row struct {
	Sheet      string
	Index      int
	Text       string
	FlightDate *time.Time // sheet-level date column, when present
	RegionHint string     // sheet-level region column, when present
}

// Reader yields workbook rows until io.EOF.
type Reader interface {
	Read() (*Row, error)
}

// Open opens a row dump, detecting the format from the extension or, failing
// that, from the first byte of content.
func Open(path string) (Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".json", ".ndjson":
		return NewJSONLReader(f), f, nil
	case ".csv":
		return NewCSVReader(f), f, nil
	}

	br := bufio.NewReader(f)
	head, _ := br.Peek(1)
	if len(head) == 1 && head[0] == '{' {
		return NewJSONLReader(br), f, nil
	}
	return NewCSVReader(br), f, nil
}

// jsonRow accepts the field aliases seen across exports.
type jsonRow struct {
	Sheet  string `json:"sheet"`
	List   string `json:"list"`
	Row    int    `json:"row"`
	Index  int    `json:"index"`
	Text   string `json:"text"`
	SHR    string `json:"shr"`
	Date   string `json:"date"`
	Region string `json:"region"`
}

// JSONLReader reads one JSON object per line.
type JSONLReader struct {
	scanner *bufio.Scanner
	line    int
	seq     int
}

// NewJSONLReader creates a reader over r.
func NewJSONLReader(r io.Reader) *JSONLReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &JSONLReader{scanner: sc}
}

// Read returns the next row or io.EOF.
func (jr *JSONLReader) Read() (*Row, error) {
	for jr.scanner.Scan() {
		jr.line++
		line := bytes.TrimSpace(jr.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var raw jsonRow
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", jr.line, err)
		}

		jr.seq++
		row := &Row{
			Sheet:      firstNonEmpty(raw.Sheet, raw.List),
			Index:      raw.Row,
			Text:       firstNonEmpty(raw.Text, raw.SHR),
			RegionHint: raw.Region,
		}
		if row.Index == 0 {
			row.Index = raw.Index
		}
		if row.Index == 0 {
			row.Index = jr.seq
		}
		row.FlightDate = parseRowDate(raw.Date)
		return row, nil
	}
	if err := jr.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// CSVReader reads rows from a CSV dump with a header line.
type CSVReader struct {
	cr      *csv.Reader
	columns map[string]int
	seq     int
}

// NewCSVReader creates a reader over r. The header is consumed lazily on the
// first Read.
func NewCSVReader(r io.Reader) *CSVReader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	return &CSVReader{cr: cr}
}

// Read returns the next row or io.EOF.
func (cr *CSVReader) Read() (*Row, error) {
	if cr.columns == nil {
		header, err := cr.cr.Read()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read header: %w", err)
		}
		cr.columns = mapColumns(header)
		if _, ok := cr.columns["text"]; !ok {
			return nil, fmt.Errorf("no telegram text column in header %v", header)
		}
	}

	record, err := cr.cr.Read()
	if err != nil {
		return nil, err
	}

	cr.seq++
	row := &Row{
		Sheet:      cr.field(record, "sheet"),
		Text:       cr.field(record, "text"),
		RegionHint: cr.field(record, "region"),
	}
	if s := cr.field(record, "row"); s != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			row.Index = n
		}
	}
	if row.Index == 0 {
		row.Index = cr.seq
	}
	row.FlightDate = parseRowDate(cr.field(record, "date"))
	return row, nil
}

func (cr *CSVReader) field(record []string, name string) string {
	i, ok := cr.columns[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// Column name aliases, normalized to canonical keys.
var columnAliases = map[string]string{
	"sheet": "sheet", "list": "sheet",
	"row": "row", "index": "row", "row_index": "row",
	"text": "text", "shr": "text", "telegram": "text",
	"date": "date", "flight_date": "date", "dof": "date",
	"region": "region", "center": "region",
}

func mapColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if canonical, ok := columnAliases[key]; ok {
			if _, taken := cols[canonical]; !taken {
				cols[canonical] = i
			}
		}
	}
	return cols
}

// parseRowDate accepts the date layouts seen in exports.
func parseRowDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", "02.01.2006", "2006-01-02T15:04:05Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &t
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
