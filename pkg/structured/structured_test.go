package structured

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/querygate/pkg/adapter"
	"github.com/zen-systems/querygate/pkg/backend"
	"github.com/zen-systems/querygate/pkg/dataset"
)

const salesCSV = `ID,CUSTOMER_ID,FRIDGE_MODEL,BRAND,CAPACITY_LITERS,PRICE,SALES_DATE,STORE_NAME,STORE_ADDRESS,CUSTOMER_FEEDBACK
1,CUST001,RF28K9070SG,Samsung,28,1299.99,2024-01-15,New York Store,123 Broadway,Great fridge
2,CUST002,GNE27JYMFS,GE,27,899.99,2024-01-16,Chicago Store,456 Michigan Ave,Works fine
3,CUST003,KRFF507HPS,KitchenAid,30,1899.99,2024-01-17,Los Angeles Store,789 Sunset Blvd,Too noisy
4,CUST004,RF23M8070SG,Samsung,23,1099.99,2024-02-01,Chicago Store,456 Michigan Ave,Ice maker broke
`

func salesTable(t *testing.T) *dataset.Table {
	t.Helper()
	table, err := dataset.LoadCSV(strings.NewReader(salesCSV), dataset.DefaultProfile())
	require.NoError(t, err)
	return table
}

func TestExecute(t *testing.T) {
	table := salesTable(t)
	p := dataset.DefaultProfile()

	tests := []struct {
		name    string
		spec    QuerySpec
		columns []string
		rows    [][]string
	}{
		{
			name:    "eq is case insensitive",
			spec:    QuerySpec{Filters: []Filter{{Column: "BRAND", Op: OpEq, Value: "samsung"}}, Select: []string{"ID"}},
			columns: []string{"ID"},
			rows:    [][]string{{"1"}, {"4"}},
		},
		{
			name:    "numeric comparison",
			spec:    QuerySpec{Filters: []Filter{{Column: "PRICE", Op: OpGt, Value: 1000.0}}, Select: []string{"ID"}},
			columns: []string{"ID"},
			rows:    [][]string{{"1"}, {"3"}, {"4"}},
		},
		{
			name:    "in and contains",
			spec:    QuerySpec{Filters: []Filter{{Column: "BRAND", Op: OpIn, Value: []any{"GE", "KitchenAid"}}, {Column: "CUSTOMER_FEEDBACK", Op: OpContains, Value: "NOISY"}}, Select: []string{"ID"}},
			columns: []string{"ID"},
			rows:    [][]string{{"3"}},
		},
		{
			name:    "date range with swapped bounds",
			spec:    QuerySpec{Filters: []Filter{{Column: "SALES_DATE", Op: OpDateRange, Value: []any{"2024-01-31", "2024-01-16"}}}, Select: []string{"ID"}},
			columns: []string{"ID"},
			rows:    [][]string{{"2"}, {"3"}},
		},
		{
			name:    "unknown filter column is ignored",
			spec:    QuerySpec{Filters: []Filter{{Column: "COLOR", Op: OpEq, Value: "red"}}, Select: []string{"ID"}, Limit: 2},
			columns: []string{"ID"},
			rows:    [][]string{{"1"}, {"2"}},
		},
		{
			name:    "group by with single aggregation keeps the column name",
			spec:    QuerySpec{GroupBy: []string{"BRAND"}, Aggregations: map[string]AggList{"PRICE": {"sum"}}, Sort: []SortKey{{By: "PRICE", Order: "desc"}}},
			columns: []string{"BRAND", "PRICE"},
			rows:    [][]string{{"Samsung", "2399.98"}, {"KitchenAid", "1899.99"}, {"GE", "899.99"}},
		},
		{
			name:    "multiple aggregations get suffixed names",
			spec:    QuerySpec{GroupBy: []string{"STORE_NAME"}, Aggregations: map[string]AggList{"PRICE": {"count", "max"}}, Limit: 1},
			columns: []string{"STORE_NAME", "PRICE_count", "PRICE_max"},
			rows:    [][]string{{"Chicago Store", "2", "1099.99"}},
		},
		{
			name:    "aggregation without group by is one row",
			spec:    QuerySpec{Aggregations: map[string]AggList{"PRICE": {"mean"}}},
			columns: []string{"PRICE"},
			rows:    [][]string{{"1299.99"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := tt.spec
			res, err := Execute(table, p, &spec)
			require.NoError(t, err)
			assert.Equal(t, tt.columns, res.Frame.Columns)
			assert.Equal(t, tt.rows, res.Frame.Rows)
		})
	}
}

func TestExecuteWarnsOnSkippedFilters(t *testing.T) {
	res, err := Execute(salesTable(t), dataset.DefaultProfile(), &QuerySpec{
		Filters: []Filter{
			{Column: "COLOR", Op: OpEq, Value: "red"},
			{Column: "BRAND", Op: "regex", Value: ".*"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 2)
	assert.Equal(t, 4, res.Frame.Len())
}

func TestExecuteRejectsUnknownAggregation(t *testing.T) {
	_, err := Execute(salesTable(t), dataset.DefaultProfile(), &QuerySpec{
		Aggregations: map[string]AggList{"PRICE": {"stddev"}},
	})
	require.Error(t, err)
}

func TestParseSpec(t *testing.T) {
	spec, err := ParseSpec("```json\n{\"aggregations\":{\"PRICE\":[\"sum\",\"mean\"],\"ID\":\"count\"},\"limit\":900}\n```")
	require.NoError(t, err)
	assert.Equal(t, AggList{"sum", "mean"}, spec.Aggregations["PRICE"])
	assert.Equal(t, AggList{"count"}, spec.Aggregations["ID"])

	spec.Normalize(salesTable(t))
	assert.Equal(t, MaxLimit, spec.Limit)

	_, err = ParseSpec("no json here")
	require.Error(t, err)
}

func TestParseWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)
	tests := []struct {
		text  string
		start string
		ok    bool
	}{
		{"sales last week", "2024-03-03", true},
		{"Sales in the last month", "2024-02-09", true},
		{"past 2 weeks", "2024-02-25", true},
		{"last 3 days of sales", "2024-03-07", true},
		{"last 2 months", "2024-01-10", true},
		{"all sales", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			w, ok := ParseWindow(tt.text, now)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.start, w.Start.Format(time.DateOnly))
			assert.Equal(t, "2024-03-10", w.End.Format(time.DateOnly))
		})
	}
}

func TestSynthesizerAddsDateWindow(t *testing.T) {
	mock := adapter.NewMockAdapterWithResponses(map[string]string{
		"Question: how many sales last week": `{"aggregations":{"ID":"count"},"select":["ID","MISSING"],"limit":0}`,
	}, "")
	now := func() time.Time { return time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC) }
	s := NewLLMSynthesizer(adapter.Model{Adapter: mock, ID: "mock-1"}, WithSynthClock(now))

	spec, err := s.Synthesize(context.Background(), "how many sales last week", salesTable(t), dataset.DefaultProfile())
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, spec.Limit)
	assert.Equal(t, []string{"ID"}, spec.Select)
	require.Len(t, spec.Filters, 1)
	assert.Equal(t, "SALES_DATE", spec.Filters[0].Column)
	assert.Equal(t, []any{"2024-01-13", "2024-01-20"}, spec.Filters[0].Value)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "Detected date window hint: 2024-01-13 to 2024-01-20")
	assert.Contains(t, calls[0], "RF28K9070SG")
}

func TestSynthesizerFallsBackToWindow(t *testing.T) {
	mock := adapter.NewFailingMockAdapter(errors.New("provider down"))
	now := func() time.Time { return time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC) }
	s := NewLLMSynthesizer(adapter.Model{Adapter: mock, ID: "mock-1"}, WithSynthClock(now))

	spec, err := s.Synthesize(context.Background(), "sales in the past 5 days", salesTable(t), dataset.DefaultProfile())
	require.NoError(t, err)
	require.Len(t, spec.Filters, 1)
	assert.Equal(t, OpDateRange, spec.Filters[0].Op)

	_, err = s.Synthesize(context.Background(), "average price", salesTable(t), dataset.DefaultProfile())
	require.Error(t, err)
}

func TestFormatterShapes(t *testing.T) {
	ctx := context.Background()
	f := NewFormatter(adapter.Model{}, nil)
	table := salesTable(t)

	empty := f.Format(ctx, "q", &QuerySpec{}, table.Head(0))
	assert.Equal(t, NoRowsAnswer, empty.Text)
	assert.Zero(t, empty.Matches)

	scalar := f.Format(ctx, "q", &QuerySpec{}, dataset.NewTable("t", []string{"PRICE"}, [][]string{{"42"}}))
	assert.Equal(t, backend.ShapeScalar, scalar.Signals.Shape)
	assert.Equal(t, "PRICE: 42", scalar.Text)

	tbl := f.Format(ctx, "q", &QuerySpec{Limit: 10}, table)
	assert.Equal(t, backend.ShapeTable, tbl.Signals.Shape)
	assert.Equal(t, 4, tbl.Matches)
	require.Len(t, tbl.Sources, 5)
	assert.Equal(t, backend.SourceQuery, tbl.Sources[4].Kind)
	assert.Equal(t, "Samsung", tbl.Sources[0].Metadata["brand"])
}

func TestFormatterParaphrasesLargeFrames(t *testing.T) {
	rows := make([][]string, 120)
	for i := range rows {
		rows[i] = []string{strings.Repeat("x", 80), "1"}
	}
	frame := dataset.NewTable("t", []string{"NOTE", "N"}, rows)
	ctx := context.Background()

	plain := NewFormatter(adapter.Model{}, nil)
	ans := plain.Format(ctx, "q", &QuerySpec{}, frame)
	assert.Equal(t, backend.ShapeParaphrase, ans.Signals.Shape)
	assert.LessOrEqual(t, len(ans.Text), DefaultMaxChars)
	assert.Len(t, ans.Sources, DefaultMaxSources+1)

	mock := adapter.NewMockAdapterWithResponses(map[string]string{"The result has 120 rows": "All 120 notes are x."}, "")
	llm := NewFormatter(adapter.Model{Adapter: mock, ID: "mock-1"}, nil)
	ans = llm.Format(ctx, "q", &QuerySpec{}, frame)
	assert.Equal(t, backend.ShapeParaphrase, ans.Signals.Shape)
	assert.Equal(t, "All 120 notes are x.", ans.Text)
}

func TestFormatterLimits(t *testing.T) {
	ctx := context.Background()
	f := NewFormatter(adapter.Model{}, nil).WithLimits(2, 0, 1)
	ans := f.Format(ctx, "q", &QuerySpec{}, salesTable(t))
	assert.Equal(t, backend.ShapeParaphrase, ans.Signals.Shape)
	assert.Len(t, ans.Sources, 2)
}

func TestEngineAnswer(t *testing.T) {
	catalog, err := dataset.NewCatalog("", nil)
	require.NoError(t, err)
	require.NoError(t, catalog.Put(dataset.DefaultProfile(), salesTable(t)))

	mock := adapter.NewMockAdapterWithResponses(map[string]string{
		"Question: average price by brand": `{"group_by":["BRAND"],"aggregations":{"PRICE":"mean"},"sort":[{"by":"BRAND"}]}`,
		"Question: fridges from Miele":     `{"filters":[{"column":"BRAND","op":"eq","value":"Miele"}]}`,
	}, "")
	model := adapter.Model{Adapter: mock, ID: "mock-1"}
	engine := NewEngine(catalog, NewLLMSynthesizer(model), NewFormatter(model, nil), nil)

	ans, err := engine.Answer(context.Background(), backend.Question{Text: "average price by brand"})
	require.NoError(t, err)
	assert.Equal(t, backend.ShapeTable, ans.Signals.Shape)
	assert.Equal(t, "BRAND,PRICE\nGE,899.99\nKitchenAid,1899.99\nSamsung,1199.99\n", ans.Text)

	ans, err = engine.Answer(context.Background(), backend.Question{Text: "fridges from Miele"})
	require.NoError(t, err)
	assert.Zero(t, ans.Matches)

	_, err = engine.Answer(context.Background(), backend.Question{Text: "x", ProfileID: "nope"})
	require.ErrorIs(t, err, dataset.ErrUnknownProfile)

	stats, err := engine.Describe("")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalRows)
	assert.Equal(t, 10, stats.TotalColumns)
}
