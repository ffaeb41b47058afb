// Package lineparse turns one newline-delimited wire record into a canonical
// telemetry sample. Two wire formats are understood: one JSON object per
// line, and delimited text with positional or header-declared columns.
package lineparse

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"tcpline/internal/config"
	"tcpline/internal/telemetry"
)

var (
	// ErrInvalidJSON is returned for a JSON line that is not exactly one
	// well-formed object.
	ErrInvalidJSON = errors.New("invalid json")

	// ErrInvalidTimestamp is returned when a ts field is present but is not
	// an RFC 3339 date-time.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// field is one key/value pair lifted off the wire. value is a string,
// json.Number, bool, nil, or a nested JSON value.
type field struct {
	key   string
	value any
}

// Parser holds per-connection CSV header state. It is not safe for
// concurrent use; the driver serializes access.
type Parser struct {
	format    string
	delimiter string
	hasHeader bool
	offsets   config.Offsets

	configured   []string
	columns      []string
	headerParsed bool
}

// New creates a parser for cfg's wire format.
func New(cfg config.Config) *Parser {
	p := &Parser{
		format:     cfg.Format,
		delimiter:  cfg.CSV.Delimiter,
		hasHeader:  cfg.CSV.HasHeader,
		offsets:    cfg.Offsets,
		configured: slices.Clone(cfg.CSV.Columns),
	}
	p.Reset()
	return p
}

// Reset forgets any header row and restores the configured columns. Called
// whenever a connection is established or torn down.
func (p *Parser) Reset() {
	p.headerParsed = false
	p.columns = slices.Clone(p.configured)
}

// activeColumns returns the column list that the next CSV row will be
// zipped with.
func (p *Parser) activeColumns() []string {
	if len(p.columns) == 0 {
		return config.DefaultColumns
	}
	return p.columns
}

// Parse converts one line into a sample. Lines that carry nothing (blank
// lines, CSV header rows, records with no usable field) yield a nil sample
// and a nil error. now stamps samples whose record has no ts field.
func (p *Parser) Parse(line string, now time.Time) (*telemetry.Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	var fields []field
	var err error
	switch p.format {
	case config.FormatCSV:
		fields = p.csvFields(line)
		if fields == nil {
			return nil, nil
		}
	default:
		fields, err = jsonFields(line)
		if err != nil {
			return nil, err
		}
	}

	return p.toSample(fields, now)
}

// jsonFields decodes a single JSON object, keeping keys in wire order. A
// repeated key keeps its first position and its last value.
func jsonFields(line string) ([]field, error) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, ErrInvalidJSON
	}

	var fields []field
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, ErrInvalidJSON
		}
		key, ok := tok.(string)
		if !ok {
			return nil, ErrInvalidJSON
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, ErrInvalidJSON
		}
		if i, seen := index[key]; seen {
			fields[i].value = value
			continue
		}
		index[key] = len(fields)
		fields = append(fields, field{key: key, value: value})
	}

	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, ErrInvalidJSON
	}
	// Anything after the closing brace makes the line invalid.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrInvalidJSON
	}
	return fields, nil
}

// csvFields splits a delimited row and zips it with the active columns.
// The header row, when expected, sets the columns and yields nil.
func (p *Parser) csvFields(line string) []field {
	parts := strings.Split(line, p.delimiter)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if p.hasHeader && !p.headerParsed {
		p.columns = parts
		p.headerParsed = true
		return nil
	}

	columns := p.activeColumns()
	fields := make([]field, 0, min(len(parts), len(columns)))
	for i, part := range parts {
		if i >= len(columns) {
			break
		}
		fields = append(fields, field{key: columns[i], value: part})
	}
	return fields
}

func (p *Parser) toSample(fields []field, now time.Time) (*telemetry.Sample, error) {
	s := &telemetry.Sample{TS: now.UTC()}

	for _, f := range fields {
		if f.key != telemetry.FieldTS {
			continue
		}
		// A non-string ts is ignored and the arrival time stands.
		if text, ok := f.value.(string); ok {
			ts, err := parseTimestamp(text)
			if err != nil {
				return nil, err
			}
			s.TS = ts
		}
	}

	for _, f := range fields {
		if !telemetry.IsReserved(f.key) {
			if extra, ok := toExtra(f); ok {
				s.Extras = append(s.Extras, extra)
			}
			continue
		}
		switch f.key {
		case telemetry.FieldBtC:
			s.BtC = offset(parseNumber(f.value), p.offsets.BtC)
		case telemetry.FieldEtC:
			s.EtC = offset(parseNumber(f.value), p.offsets.EtC)
		case telemetry.FieldPowerPct:
			s.PowerPct = parseNumber(f.value)
		case telemetry.FieldFanPct:
			s.FanPct = parseNumber(f.value)
		case telemetry.FieldDrumRpm:
			s.DrumRpm = parseNumber(f.value)
		}
	}

	if !s.HasData() {
		return nil, nil
	}
	return s, nil
}

// toExtra keeps numbers and non-empty text; everything else is dropped.
func toExtra(f field) (telemetry.Extra, bool) {
	if n := parseNumber(f.value); n != nil {
		return telemetry.NumberExtra(f.key, *n), true
	}
	if text, ok := f.value.(string); ok {
		if text = strings.TrimSpace(text); text != "" {
			return telemetry.TextExtra(f.key, text), true
		}
	}
	return telemetry.Extra{}, false
}

// parseNumber accepts a JSON number or a decimal numeric string. Empty
// strings, hexadecimal forms, non-finite values and every other type yield
// nil.
func parseNumber(v any) *float64 {
	var text string
	switch v := v.(type) {
	case json.Number:
		text = v.String()
	case string:
		text = v
	default:
		return nil
	}
	if text == "" || isHex(text) {
		return nil
	}
	n, err := strconv.ParseFloat(text, 64)
	if err != nil || !finite(n) {
		return nil
	}
	return &n
}

// isHex reports whether text carries a 0x prefix after an optional sign.
// strconv.ParseFloat would accept it as a hexadecimal float.
func isHex(text string) bool {
	text = strings.TrimLeft(text, "+-")
	return len(text) >= 2 && text[0] == '0' && (text[1] == 'x' || text[1] == 'X')
}

func finite(n float64) bool {
	return !math.IsNaN(n) && !math.IsInf(n, 0)
}

func offset(v *float64, by float64) *float64 {
	if v == nil {
		return nil
	}
	n := *v + by
	if !finite(n) {
		return nil
	}
	return &n
}

// parseTimestamp accepts RFC 3339 with a 'T', 't' or ' ' date/time
// separator and an upper- or lower-case 'Z'.
func parseTimestamp(text string) (time.Time, error) {
	b := []byte(text)
	if len(b) > 10 && (b[10] == ' ' || b[10] == 't') {
		b[10] = 'T'
	}
	if n := len(b); n > 0 && b[n-1] == 'z' {
		b[n-1] = 'Z'
	}
	ts, err := time.Parse(time.RFC3339Nano, string(b))
	if err != nil {
		return time.Time{}, ErrInvalidTimestamp
	}
	return ts.UTC(), nil
}
