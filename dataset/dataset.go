// Package dataset pulls tabular data out of fenced code blocks in chat text.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPreviewRows rows shown by Preview when n <= 0.
const DefaultPreviewRows = 5

var codeBlockPattern = regexp.MustCompile("(?s)```(?P<lang>[a-zA-Z0-9_+-]*)\n(?P<body>.*?)```")

var acceptedLanguages = map[string]bool{
	"csv":   true,
	"tsv":   true,
	"text":  true,
	"table": true,
}

// ErrColumnNotFound is returned when a column lookup fails.
var ErrColumnNotFound = errors.New("column not found")

// Table is a header row plus string cells.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Named pairs a table with the name it was extracted under.
type Named struct {
	Name  string
	Table *Table
}

// Extract returns the tables found in fenced code blocks of message.
// Block numbering counts every fenced block, so a skipped block still
// consumes an index.
func Extract(message string) []Named {
	var out []Named
	matches := codeBlockPattern.FindAllStringSubmatch(message, -1)
	for i, m := range matches {
		lang := strings.ToLower(m[1])
		if lang == "" {
			lang = "csv"
		}
		if !acceptedLanguages[lang] {
			continue
		}

		delimiter := ','
		if lang == "tsv" {
			delimiter = '\t'
		}

		table, err := Parse(strings.TrimSpace(m[2]), delimiter)
		if err != nil {
			continue
		}
		out = append(out, Named{Name: fmt.Sprintf("dataset_%d", i+1), Table: table})
	}
	return out
}

// Parse reads delimited text whose first record is the header.
// Short rows are kept and read as blank cells; rows wider than the header
// are rejected.
func Parse(body string, delimiter rune) (*Table, error) {
	r := csv.NewReader(strings.NewReader(body))
	r.Comma = delimiter
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no columns to parse")
		}
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) > len(header) {
			return nil, fmt.Errorf("row %d: expected %d fields, saw %d", i+2, len(header), len(row))
		}
	}
	return &Table{Columns: header, Rows: rows}, nil
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of name in the header.
func (t *Table) ColumnIndex(name string) (int, error) {
	for i, c := range t.Columns {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q (available: %s)", ErrColumnNotFound, name, strings.Join(t.Columns, ", "))
}

// Strings returns the raw cells of a column.
func (t *Table) Strings(name string) ([]string, error) {
	idx, err := t.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			out[i] = strings.TrimSpace(row[idx])
		}
	}
	return out, nil
}

// Floats parses a column as numbers. Blank and NaN cells are reported as
// NaN so that row alignment with other columns is kept.
func (t *Table) Floats(name string) ([]float64, error) {
	cells, err := t.Strings(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(cells))
	for i, c := range cells {
		if c == "" || strings.EqualFold(c, "nan") || strings.EqualFold(c, "na") {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %q is not numeric", name, i+1, c)
		}
		out[i] = v
	}
	return out, nil
}

// DropNaN returns the non-NaN values of vs.
func DropNaN(vs []float64) []float64 {
	out := make([]float64, 0, len(vs))
	for _, v := range vs {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Preview renders the first n rows as a markdown table.
func (t *Table) Preview(n int) string {
	if n <= 0 {
		n = DefaultPreviewRows
	}
	rows := t.Rows
	if len(rows) > n {
		rows = rows[:n]
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := range t.Columns {
			cell := ""
			if i < len(cells) {
				cell = strings.ReplaceAll(cells[i], "|", `\|`)
			}
			b.WriteString(" ")
			b.WriteString(cell)
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	writeRow(t.Columns)
	b.WriteString("|")
	for range t.Columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range rows {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}
