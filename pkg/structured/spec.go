// Package structured answers questions by synthesizing a query over the
// dataset table and executing it directly.
package structured

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zen-systems/querygate/pkg/dataset"
)

const (
	// DefaultLimit is applied when a query names no limit.
	DefaultLimit = 100
	// MaxLimit caps any query's row limit.
	MaxLimit = 500
)

// Filter ops.
const (
	OpEq        = "eq"
	OpNeq       = "neq"
	OpGt        = "gt"
	OpGte       = "gte"
	OpLt        = "lt"
	OpLte       = "lte"
	OpIn        = "in"
	OpContains  = "contains"
	OpDateRange = "date_range"
)

// Filter restricts rows by one column.
type Filter struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  any    `json:"value"`
}

// SortKey orders results by a column.
type SortKey struct {
	By    string `json:"by"`
	Order string `json:"order,omitempty"`
}

// Desc reports whether the key sorts descending.
func (s SortKey) Desc() bool {
	return strings.EqualFold(s.Order, "desc")
}

// AggList is one or more aggregation functions. It accepts a JSON string or array.
type AggList []string

// UnmarshalJSON accepts "sum" as well as ["sum","mean"].
func (a *AggList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*a = AggList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("aggregation must be a string or list of strings: %w", err)
	}
	*a = many
	return nil
}

// QuerySpec is the structured form of a question.
type QuerySpec struct {
	Filters      []Filter           `json:"filters,omitempty"`
	GroupBy      []string           `json:"group_by,omitempty"`
	Aggregations map[string]AggList `json:"aggregations,omitempty"`
	Select       []string           `json:"select,omitempty"`
	Sort         []SortKey          `json:"sort,omitempty"`
	Limit        int                `json:"limit,omitempty"`
}

// ParseSpec decodes a spec from model output. Code fences and any prose
// around the outermost JSON object are ignored.
func ParseSpec(text string) (*QuerySpec, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	var spec QuerySpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, fmt.Errorf("decode query spec: %w", err)
	}
	return &spec, nil
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// Normalize clamps the limit and drops select and group_by columns the table
// does not have.
func (s *QuerySpec) Normalize(t *dataset.Table) {
	switch {
	case s.Limit <= 0:
		s.Limit = DefaultLimit
	case s.Limit > MaxLimit:
		s.Limit = MaxLimit
	}
	s.Select = knownColumns(t, s.Select)
	s.GroupBy = knownColumns(t, s.GroupBy)
	for i := range s.Filters {
		s.Filters[i].Op = strings.ToLower(strings.TrimSpace(s.Filters[i].Op))
	}
}

// HasDateFilter reports whether any filter targets one of the profile's date columns.
func (s *QuerySpec) HasDateFilter(p dataset.Profile) bool {
	for _, f := range s.Filters {
		if p.IsDate(f.Column) {
			return true
		}
	}
	return false
}

// String renders the spec as compact JSON.
func (s *QuerySpec) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("%+v", *s)
	}
	return string(data)
}

func knownColumns(t *dataset.Table, cols []string) []string {
	if len(cols) == 0 {
		return nil
	}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if t.HasColumn(c) {
			out = append(out, c)
		}
	}
	return out
}
