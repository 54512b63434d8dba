package structured

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/zen-systems/querygate/pkg/adapter"
	"github.com/zen-systems/querygate/pkg/backend"
	"github.com/zen-systems/querygate/pkg/dataset"
)

// NoRowsAnswer is the text of an answer whose query matched nothing.
const NoRowsAnswer = "No matching rows for your request."

// Rendering limits.
const (
	DefaultMaxRows    = 50
	DefaultMaxChars   = 6000
	DefaultMaxSources = 20
	minTableRows      = 5
)

// Formatter renders an executed frame as answer text. Frames too large to
// show as a table are paraphrased by the model when one is configured.
type Formatter struct {
	model      adapter.Model
	maxRows    int
	maxChars   int
	maxSources int
	logger     *zap.Logger
}

// NewFormatter creates a formatter with the default limits. model may be zero.
func NewFormatter(model adapter.Model, logger *zap.Logger) *Formatter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Formatter{
		model:      model,
		maxRows:    DefaultMaxRows,
		maxChars:   DefaultMaxChars,
		maxSources: DefaultMaxSources,
		logger:     logger,
	}
}

// WithLimits overrides the rendering limits. Non-positive values keep the
// current limit.
func (f *Formatter) WithLimits(maxRows, maxChars, maxSources int) *Formatter {
	if maxRows > 0 {
		f.maxRows = maxRows
	}
	if maxChars > 0 {
		f.maxChars = maxChars
	}
	if maxSources > 0 {
		f.maxSources = maxSources
	}
	return f
}

// Format builds the backend answer for frame.
func (f *Formatter) Format(ctx context.Context, question string, spec *QuerySpec, frame *dataset.Table) *backend.Answer {
	if frame == nil || frame.Len() == 0 {
		return &backend.Answer{Text: NoRowsAnswer, Matches: 0}
	}

	ans := &backend.Answer{Matches: frame.Len(), Sources: f.sources(spec, frame)}

	if frame.Len() == 1 && len(frame.Columns) == 1 {
		ans.Text = fmt.Sprintf("%s: %s", frame.Columns[0], frame.Rows[0][0])
		ans.Signals.Shape = backend.ShapeScalar
		return ans
	}

	if full := frame.CSV(); frame.Len() <= f.maxRows && len(full) <= f.maxChars {
		ans.Text = full
		ans.Signals.Shape = backend.ShapeTable
		return ans
	}

	table := f.Table(frame)
	ans.Signals.Shape = backend.ShapeParaphrase
	ans.Text = table
	if !f.model.Valid() {
		return ans
	}
	summary, err := f.model.Complete(ctx, buildParaphrasePrompt(question, frame.Len(), table))
	if err != nil || strings.TrimSpace(summary) == "" {
		f.logger.Warn("paraphrase failed, returning truncated table", zap.Error(err))
		return ans
	}
	ans.Text = strings.TrimSpace(summary)
	return ans
}

// Table renders at most maxRows rows as CSV, halving the row count while the
// text exceeds maxChars, down to a floor of five rows.
func (f *Formatter) Table(frame *dataset.Table) string {
	head := frame.Head(f.maxRows)
	text := head.CSV()
	for len(text) > f.maxChars && head.Len() > minTableRows {
		head = head.Head(max(minTableRows, head.Len()/2))
		text = head.CSV()
	}
	return text
}

func (f *Formatter) sources(spec *QuerySpec, frame *dataset.Table) []backend.Source {
	n := min(frame.Len(), f.maxSources)
	out := make([]backend.Source, 0, n+1)
	for i := 0; i < n; i++ {
		meta := make(map[string]string, len(frame.Columns))
		parts := make([]string, 0, len(frame.Columns))
		for j, col := range frame.Columns {
			v := frame.Rows[i][j]
			if dataset.IsNull(v) {
				continue
			}
			meta[strings.ToLower(col)] = v
			parts = append(parts, col+": "+v)
		}
		out = append(out, backend.Source{
			ID:       "row-" + strconv.Itoa(i+1),
			Kind:     backend.SourceRow,
			Content:  strings.Join(parts, " | "),
			Metadata: meta,
		})
	}
	if spec != nil {
		out = append(out, backend.Source{
			ID:      "query",
			Kind:    backend.SourceQuery,
			Content: spec.String(),
		})
	}
	return out
}

func buildParaphrasePrompt(question string, rows int, table string) string {
	return fmt.Sprintf(`Answer the question using the query result below.
The result has %d rows; only the first rows are shown.
Summarize totals, ranges and notable rows. Do not invent values.

Question: %s

Result (CSV):
%s
Answer:`, rows, question, table)
}
