package structured

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zen-systems/querygate/pkg/adapter"
	"github.com/zen-systems/querygate/pkg/backend"
	"github.com/zen-systems/querygate/pkg/dataset"
)

// Engine answers questions by synthesizing and executing a query over the
// profile's table.
type Engine struct {
	catalog   *dataset.Catalog
	synth     Synthesizer
	formatter *Formatter
	logger    *zap.Logger
}

// NewEngine creates a structured engine.
func NewEngine(catalog *dataset.Catalog, synth Synthesizer, formatter *Formatter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if formatter == nil {
		formatter = NewFormatter(adapter.Model{}, logger)
	}
	return &Engine{
		catalog:   catalog,
		synth:     synth,
		formatter: formatter,
		logger:    logger.Named("structured"),
	}
}

// Answer implements backend.Engine.
func (e *Engine) Answer(ctx context.Context, q backend.Question) (*backend.Answer, error) {
	loaded, err := e.catalog.Load(q.ProfileID)
	if err != nil {
		return nil, err
	}

	spec, err := e.synth.Synthesize(ctx, q.Text, loaded.Table, loaded.Profile)
	if err != nil {
		return nil, fmt.Errorf("synthesize query: %w", err)
	}

	res, err := Execute(loaded.Table, loaded.Profile, spec)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	for _, w := range res.Warnings {
		e.logger.Debug("query warning", zap.String("warning", w))
	}
	e.logger.Debug("query executed",
		zap.String("profile", loaded.Profile.ID),
		zap.String("spec", spec.String()),
		zap.Int("rows", res.Frame.Len()),
	)

	return e.formatter.Format(ctx, q.Text, spec, res.Frame), nil
}

// Stats describes a loaded dataset.
type Stats struct {
	Profile      string         `json:"profile"`
	TotalRows    int            `json:"total_rows"`
	TotalColumns int            `json:"total_columns"`
	ColumnNames  []string       `json:"column_names"`
	NullCounts   map[string]int `json:"null_counts"`
}

// Describe returns row, column and null counts for a profile's table.
func (e *Engine) Describe(profileID string) (*Stats, error) {
	loaded, err := e.catalog.Load(profileID)
	if err != nil {
		return nil, err
	}
	t := loaded.Table
	return &Stats{
		Profile:      loaded.Profile.ID,
		TotalRows:    t.Len(),
		TotalColumns: len(t.Columns),
		ColumnNames:  append([]string(nil), t.Columns...),
		NullCounts:   t.NullCounts(),
	}, nil
}
