package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Table is an in-memory, string-typed view of a CSV dataset. Typed access
// goes through Number and Time.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string

	index map[string]int
}

// NewTable builds a table. Short rows are padded and long rows truncated.
func NewTable(name string, columns []string, rows [][]string) *Table {
	t := &Table{Name: name, Columns: columns, index: make(map[string]int, len(columns))}
	for i, c := range columns {
		t.index[c] = i
	}
	t.Rows = make([][]string, 0, len(rows))
	for _, r := range rows {
		t.Rows = append(t.Rows, fitRow(r, len(columns)))
	}
	return t
}

func fitRow(row []string, n int) []string {
	out := make([]string, n)
	copy(out, row)
	return out
}

// Len returns the row count.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Col returns the index of a column.
func (t *Table) Col(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// HasColumn reports whether the table has the column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Value returns the cell at row for col, or "" if the column is unknown.
func (t *Table) Value(row int, col string) string {
	i, ok := t.index[col]
	if !ok || row < 0 || row >= len(t.Rows) {
		return ""
	}
	return t.Rows[row][i]
}

// Number parses the cell as a float.
func (t *Table) Number(row int, col string) (float64, bool) {
	return ParseNumber(t.Value(row, col))
}

// Time parses the cell as a date.
func (t *Table) Time(row int, col string) (time.Time, bool) {
	return ParseTime(t.Value(row, col))
}

// Record returns the row as a column-keyed map.
func (t *Table) Record(row int) map[string]string {
	rec := make(map[string]string, len(t.Columns))
	for i, c := range t.Columns {
		rec[c] = t.Rows[row][i]
	}
	return rec
}

// Head returns a table with at most n rows. The rows are shared.
func (t *Table) Head(n int) *Table {
	if n < 0 {
		n = 0
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return &Table{Name: t.Name, Columns: t.Columns, Rows: t.Rows[:n], index: t.index}
}

// CSV renders the table with a header line.
func (t *Table) CSV() string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.Write(t.Columns)
	_ = w.WriteAll(t.Rows)
	return sb.String()
}

// NullCounts counts empty cells per column.
func (t *Table) NullCounts() map[string]int {
	out := make(map[string]int, len(t.Columns))
	for _, c := range t.Columns {
		out[c] = 0
	}
	for _, r := range t.Rows {
		for i, v := range r {
			if IsNull(v) {
				out[t.Columns[i]]++
			}
		}
	}
	return out
}

// IsNull reports whether a cell holds no value.
func IsNull(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "nan", "null", "none", "n/a", "na":
		return true
	}
	return false
}

// ParseNumber parses numbers, tolerating currency symbols and thousands separators.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if IsNull(s) {
		return 0, false
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

var timeLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"02/01/2006",
	"2006/01/02",
	"01-02-2006",
	"02-01-2006",
	"02.01.2006",
}

// ParseTime parses a date in any of the supported layouts.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if IsNull(s) {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// MissingColumnsError reports required columns absent from a CSV header.
type MissingColumnsError struct {
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("CSV missing required columns: %s", strings.Join(e.Missing, ", "))
}

// LoadCSV reads and cleans a CSV according to the profile. Malformed rows
// are skipped. When the profile sets SampleSize, the most recent rows by the
// first date column are kept.
func LoadCSV(r io.Reader, p Profile) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}
	var missing []string
	for _, req := range p.RequiredColumns {
		if !present[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingColumnsError{Missing: missing}
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		rows = append(rows, row)
	}

	t := NewTable(p.ID, headers, rows)
	cleanText(t, p)
	if p.SampleSize > 0 && t.Len() > p.SampleSize {
		sampleRecent(t, p)
	}
	return t, nil
}

func cleanText(t *Table, p Profile) {
	for _, col := range p.TextColumns {
		i, ok := t.Col(col)
		if !ok {
			continue
		}
		for _, r := range t.Rows {
			if IsNull(r[i]) {
				r[i] = ""
			}
		}
	}
}

func sampleRecent(t *Table, p Profile) {
	if len(p.DateColumns) > 0 {
		if i, ok := t.Col(p.DateColumns[0]); ok {
			sort.SliceStable(t.Rows, func(a, b int) bool {
				ta, oka := ParseTime(t.Rows[a][i])
				tb, okb := ParseTime(t.Rows[b][i])
				if oka != okb {
					return oka
				}
				return ta.After(tb)
			})
		}
	}
	t.Rows = t.Rows[:p.SampleSize]
}
