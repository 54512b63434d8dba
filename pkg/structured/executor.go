package structured

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zen-systems/querygate/pkg/dataset"
)

// Result is an executed query.
type Result struct {
	Frame    *dataset.Table
	Warnings []string
}

// Execute applies spec to t: filters, then grouping and aggregation, then
// select, sort and limit. Filters on unknown columns or with unusable values
// are skipped with a warning rather than failing the query.
func Execute(t *dataset.Table, p dataset.Profile, spec *QuerySpec) (*Result, error) {
	if t == nil {
		return nil, fmt.Errorf("no table to query")
	}
	if spec == nil {
		spec = &QuerySpec{}
	}
	res := &Result{}

	rows := t.Rows
	for _, f := range spec.Filters {
		next, warn := applyFilter(t, p, rows, f)
		if warn != "" {
			res.Warnings = append(res.Warnings, warn)
			continue
		}
		rows = next
	}
	frame := dataset.NewTable(t.Name, t.Columns, rows)

	if len(spec.Aggregations) > 0 {
		agg, err := aggregate(frame, spec.GroupBy, spec.Aggregations)
		if err != nil {
			return nil, err
		}
		frame = agg
	}

	if cols := knownColumns(frame, spec.Select); len(cols) > 0 {
		frame = project(frame, cols)
	}

	sortFrame(frame, spec.Sort)

	limit := spec.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	res.Frame = frame.Head(limit)
	return res, nil
}

func applyFilter(t *dataset.Table, p dataset.Profile, rows [][]string, f Filter) ([][]string, string) {
	col, ok := t.Col(f.Column)
	if !ok {
		return nil, fmt.Sprintf("filter on unknown column %q skipped", f.Column)
	}

	var match func(cell string) bool
	switch op := strings.ToLower(f.Op); op {
	case OpEq:
		want := valueString(f.Value)
		match = func(cell string) bool { return equalCells(cell, want) }
	case OpNeq:
		want := valueString(f.Value)
		match = func(cell string) bool { return !equalCells(cell, want) }
	case OpGt, OpGte, OpLt, OpLte:
		want := valueString(f.Value)
		match = func(cell string) bool {
			if dataset.IsNull(cell) {
				return false
			}
			c := compareCells(cell, want)
			switch op {
			case OpGt:
				return c > 0
			case OpGte:
				return c >= 0
			case OpLt:
				return c < 0
			default:
				return c <= 0
			}
		}
	case OpIn:
		values := valueList(f.Value)
		match = func(cell string) bool {
			for _, v := range values {
				if equalCells(cell, v) {
					return true
				}
			}
			return false
		}
	case OpContains:
		needle := strings.ToLower(valueString(f.Value))
		match = func(cell string) bool { return strings.Contains(strings.ToLower(cell), needle) }
	case OpDateRange:
		if !p.IsDate(f.Column) {
			return nil, fmt.Sprintf("date_range on non-date column %q skipped", f.Column)
		}
		bounds := valueList(f.Value)
		if len(bounds) != 2 {
			return nil, fmt.Sprintf("date_range on %q needs [start, end]; skipped", f.Column)
		}
		start, okStart := dataset.ParseTime(bounds[0])
		end, okEnd := dataset.ParseTime(bounds[1])
		if !okStart || !okEnd {
			return nil, fmt.Sprintf("date_range bounds %v not parseable; skipped", bounds)
		}
		if start.After(end) {
			start, end = end, start
		}
		match = func(cell string) bool {
			ts, ok := dataset.ParseTime(cell)
			return ok && !ts.Before(start) && !ts.After(end)
		}
	default:
		return nil, fmt.Sprintf("unsupported filter op %q skipped", f.Op)
	}

	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		if match(r[col]) {
			out = append(out, r)
		}
	}
	return out, ""
}

type aggColumn struct {
	source string
	fn     string
	name   string
}

func aggregate(t *dataset.Table, groupBy []string, aggs map[string]AggList) (*dataset.Table, error) {
	groupBy = knownColumns(t, groupBy)
	sources := make([]string, 0, len(aggs))
	for col := range aggs {
		sources = append(sources, col)
	}
	sort.Strings(sources)

	var columns []aggColumn
	for _, src := range sources {
		if !t.HasColumn(src) {
			continue
		}
		fns := aggs[src]
		for _, fn := range fns {
			fn = strings.ToLower(strings.TrimSpace(fn))
			if !validAgg(fn) {
				return nil, fmt.Errorf("unsupported aggregation %q on %s", fn, src)
			}
			name := src
			if len(fns) > 1 {
				name = src + "_" + fn
			}
			columns = append(columns, aggColumn{source: src, fn: fn, name: name})
		}
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("aggregations reference no known columns")
	}

	groupIdx := make([]int, len(groupBy))
	for i, g := range groupBy {
		groupIdx[i], _ = t.Col(g)
	}

	type group struct {
		key  []string
		rows [][]string
	}
	groups := make(map[string]*group)
	var order []*group
	for _, r := range t.Rows {
		key := make([]string, len(groupIdx))
		for i, idx := range groupIdx {
			key[i] = r[idx]
		}
		k := strings.Join(key, "\x00")
		g, ok := groups[k]
		if !ok {
			g = &group{key: key}
			groups[k] = g
			order = append(order, g)
		}
		g.rows = append(g.rows, r)
	}
	if len(groupBy) == 0 && len(order) == 0 {
		order = append(order, &group{})
	}
	sort.SliceStable(order, func(i, j int) bool {
		for k := range order[i].key {
			if c := compareCells(order[i].key[k], order[j].key[k]); c != 0 {
				return c < 0
			}
		}
		return false
	})

	header := append([]string(nil), groupBy...)
	for _, c := range columns {
		header = append(header, c.name)
	}

	out := make([][]string, 0, len(order))
	for _, g := range order {
		row := append([]string(nil), g.key...)
		for _, c := range columns {
			idx, _ := t.Col(c.source)
			row = append(row, reduce(c.fn, g.rows, idx))
		}
		out = append(out, row)
	}
	return dataset.NewTable(t.Name, header, out), nil
}

func validAgg(fn string) bool {
	switch fn {
	case "sum", "mean", "avg", "average", "count", "min", "max", "nunique", "median":
		return true
	}
	return false
}

func reduce(fn string, rows [][]string, idx int) string {
	switch fn {
	case "count":
		n := 0
		for _, r := range rows {
			if !dataset.IsNull(r[idx]) {
				n++
			}
		}
		return strconv.Itoa(n)
	case "nunique":
		seen := make(map[string]bool)
		for _, r := range rows {
			if !dataset.IsNull(r[idx]) {
				seen[r[idx]] = true
			}
		}
		return strconv.Itoa(len(seen))
	case "min", "max":
		best := ""
		for _, r := range rows {
			v := r[idx]
			if dataset.IsNull(v) {
				continue
			}
			if best == "" {
				best = v
				continue
			}
			c := compareCells(v, best)
			if (fn == "min" && c < 0) || (fn == "max" && c > 0) {
				best = v
			}
		}
		return best
	}

	var nums []float64
	for _, r := range rows {
		if f, ok := dataset.ParseNumber(r[idx]); ok {
			nums = append(nums, f)
		}
	}
	if len(nums) == 0 {
		if fn == "sum" {
			return "0"
		}
		return ""
	}
	switch fn {
	case "sum":
		return formatNumber(sum(nums))
	case "median":
		sort.Float64s(nums)
		mid := len(nums) / 2
		if len(nums)%2 == 0 {
			return formatNumber((nums[mid-1] + nums[mid]) / 2)
		}
		return formatNumber(nums[mid])
	default:
		return formatNumber(sum(nums) / float64(len(nums)))
	}
}

func sum(nums []float64) float64 {
	var total float64
	for _, n := range nums {
		total += n
	}
	return total
}

func project(t *dataset.Table, cols []string) *dataset.Table {
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i], _ = t.Col(c)
	}
	rows := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]string, len(idx))
		for j, k := range idx {
			row[j] = r[k]
		}
		rows[i] = row
	}
	return dataset.NewTable(t.Name, cols, rows)
}

func sortFrame(t *dataset.Table, keys []SortKey) {
	type key struct {
		idx  int
		desc bool
	}
	var ks []key
	for _, k := range keys {
		if i, ok := t.Col(k.By); ok {
			ks = append(ks, key{idx: i, desc: k.Desc()})
		}
	}
	if len(ks) == 0 {
		return
	}
	sort.SliceStable(t.Rows, func(a, b int) bool {
		for _, k := range ks {
			c := compareCells(t.Rows[a][k.idx], t.Rows[b][k.idx])
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareCells orders numerically when both sides are numbers, by time when
// both are dates, and case-insensitively otherwise.
func compareCells(a, b string) int {
	if fa, ok := dataset.ParseNumber(a); ok {
		if fb, ok := dataset.ParseNumber(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	if ta, ok := dataset.ParseTime(a); ok {
		if tb, ok := dataset.ParseTime(b); ok {
			return compareTimes(ta, tb)
		}
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func equalCells(cell, want string) bool {
	return compareCells(strings.TrimSpace(cell), strings.TrimSpace(want)) == 0
}

func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return formatNumber(x)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		if len(x) > 0 {
			return valueString(x[0])
		}
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func valueList(v any) []string {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, valueString(item))
		}
		return out
	case []string:
		return x
	case nil:
		return nil
	default:
		return []string{valueString(x)}
	}
}

func formatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	rounded := math.Round(f*1e6) / 1e6
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}
