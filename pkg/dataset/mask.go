package dataset

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
)

// Masker replaces sensitive values with stable placeholders of the form
// COLUMN_1A2B3C4D so they never reach a model prompt.
type Masker struct {
	mu      sync.Mutex
	mapping map[string]string
	columns map[string]int
}

// NewMasker creates an empty masker.
func NewMasker() *Masker {
	return &Masker{mapping: make(map[string]string), columns: make(map[string]int)}
}

// Mask returns the placeholder for value in column. Values shorter than
// three characters are left as they are.
func (m *Masker) Mask(column, value string) string {
	value = strings.TrimSpace(value)
	if IsNull(value) {
		return ""
	}
	if len(value) < 3 {
		return value
	}
	key := column + "\x00" + value

	m.mu.Lock()
	defer m.mu.Unlock()
	if masked, ok := m.mapping[key]; ok {
		return masked
	}
	sum := md5.Sum([]byte(value))
	masked := strings.ToUpper(column) + "_" + strings.ToUpper(hex.EncodeToString(sum[:])[:8])
	m.mapping[key] = masked
	m.columns[column]++
	return masked
}

// Apply returns a copy of t with every sensitive column masked.
func (m *Masker) Apply(t *Table, p Profile) *Table {
	rows := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = append([]string(nil), r...)
	}
	out := NewTable(t.Name, t.Columns, rows)
	for _, col := range p.SensitiveColumns {
		i, ok := out.Col(col)
		if !ok {
			continue
		}
		for _, r := range out.Rows {
			r[i] = m.Mask(col, r[i])
		}
	}
	return out
}

// MaskStats summarizes what has been masked.
type MaskStats struct {
	TotalMasked int            `json:"total_masked"`
	ByColumn    map[string]int `json:"by_column"`
}

// Stats reports the number of distinct masked values per column.
func (m *Masker) Stats() MaskStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := MaskStats{ByColumn: make(map[string]int, len(m.columns))}
	for c, n := range m.columns {
		out.ByColumn[c] = n
		out.TotalMasked += n
	}
	return out
}
