package structured

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/querygate/pkg/adapter"
	"github.com/zen-systems/querygate/pkg/dataset"
)

// Synthesizer turns a question into a QuerySpec over a table.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, t *dataset.Table, p dataset.Profile) (*QuerySpec, error)
}

// LLMSynthesizer asks a model for a JSON QuerySpec.
type LLMSynthesizer struct {
	model  adapter.Model
	logger *zap.Logger
	now    func() time.Time
}

// SynthOption configures an LLMSynthesizer.
type SynthOption func(*LLMSynthesizer)

// WithSynthLogger sets the logger.
func WithSynthLogger(l *zap.Logger) SynthOption {
	return func(s *LLMSynthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSynthClock overrides the clock used for relative date windows.
func WithSynthClock(now func() time.Time) SynthOption {
	return func(s *LLMSynthesizer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewLLMSynthesizer creates a synthesizer backed by model.
func NewLLMSynthesizer(model adapter.Model, opts ...SynthOption) *LLMSynthesizer {
	s := &LLMSynthesizer{model: model, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize returns a normalized spec. When the model fails but the question
// names a relative window, a date-only spec is returned instead.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, question string, t *dataset.Table, p dataset.Profile) (*QuerySpec, error) {
	window, hasWindow := ParseWindow(question, s.now())

	spec, err := s.ask(ctx, question, t, p, window, hasWindow)
	if err != nil {
		if ctx.Err() != nil || !hasWindow || len(p.DateColumns) == 0 {
			return nil, err
		}
		s.logger.Warn("query synthesis failed, using date window only",
			zap.Error(err),
			zap.Stringer("window", window),
		)
		spec = &QuerySpec{}
	}

	spec.Normalize(t)
	if hasWindow && !spec.HasDateFilter(p) && len(p.DateColumns) > 0 {
		spec.Filters = append(spec.Filters, Filter{
			Column: p.DateColumns[0],
			Op:     OpDateRange,
			Value:  window.Bounds(),
		})
	}
	return spec, nil
}

func (s *LLMSynthesizer) ask(ctx context.Context, question string, t *dataset.Table, p dataset.Profile, w Window, hasWindow bool) (*QuerySpec, error) {
	if !s.model.Valid() {
		return nil, fmt.Errorf("no model configured for query synthesis")
	}
	hint := "none"
	if hasWindow {
		hint = w.String()
	}
	content, err := s.model.Complete(ctx, buildSynthPrompt(question, t, p, hint))
	if err != nil {
		return nil, fmt.Errorf("synthesize query: %w", err)
	}
	spec, err := ParseSpec(content)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("query synthesized", zap.String("spec", spec.String()))
	return spec, nil
}

func buildSynthPrompt(question string, t *dataset.Table, p dataset.Profile, windowHint string) string {
	var b strings.Builder
	b.WriteString("You translate questions about a table into a JSON query spec.\n")
	if p.Description != "" {
		b.WriteString("Dataset: ")
		b.WriteString(p.Description)
		b.WriteString("\n")
	}
	b.WriteString("\nColumns:\n")
	for _, col := range t.Columns {
		kind := "text"
		switch {
		case p.IsDate(col):
			kind = "date"
		case p.IsNumeric(col):
			kind = "number"
		}
		fmt.Fprintf(&b, "- %s (%s)\n", col, kind)
	}
	b.WriteString("\nSample rows:\n")
	b.WriteString(t.Head(3).CSV())
	b.WriteString(`
Schema:
{"filters":[{"column":"COL","op":"eq|neq|gt|gte|lt|lte|in|contains|date_range","value":...}],
 "group_by":["COL"],
 "aggregations":{"COL":"sum|mean|count|min|max|nunique|median" or ["sum","mean"]},
 "select":["COL"],
 "sort":[{"by":"COL","order":"asc|desc"}],
 "limit":100}
Use only the listed columns. date_range takes ["YYYY-MM-DD","YYYY-MM-DD"].
`)
	fmt.Fprintf(&b, "\nQuestion: %s\nDetected date window hint: %s\n\nReturn only JSON matching the schema.", question, windowHint)
	return b.String()
}
