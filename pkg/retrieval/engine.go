package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zen-systems/querygate/pkg/adapter"
	"github.com/zen-systems/querygate/pkg/backend"
	"github.com/zen-systems/querygate/pkg/dataset"
)

// Engine defaults.
const (
	DefaultTopK         = 5
	DefaultMinRelevance = 0.3
	sourcePreviewChars  = 200
)

const answerTemplate = `You are a helpful assistant that answers questions based on the provided context.

Context:
%s

Question: %s

Please provide a comprehensive answer based on the context above. If the context doesn't contain enough information to answer the question, please say so.

Answer:`

// Engine answers from the profile's vector collection.
type Engine struct {
	catalog      *dataset.Catalog
	index        *Index
	model        adapter.Model
	topK         int
	minRelevance float64
	logger       *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTopK sets how many chunks are retrieved per question.
func WithTopK(k int) EngineOption {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithMinRelevance sets the score below which hits are discarded.
func WithMinRelevance(score float64) EngineOption {
	return func(e *Engine) {
		if score >= 0 && score <= 1 {
			e.minRelevance = score
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a retrieval engine. model generates answers from the
// retrieved context.
func NewEngine(catalog *dataset.Catalog, index *Index, model adapter.Model, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog:      catalog,
		index:        index,
		model:        model,
		topK:         DefaultTopK,
		minRelevance: DefaultMinRelevance,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("retrieval")
	return e
}

// Answer implements backend.Engine. Hits below the relevance floor do not
// count; with none left the answer is empty and no generation happens.
func (e *Engine) Answer(ctx context.Context, q backend.Question) (*backend.Answer, error) {
	hits, err := e.Search(ctx, q.Text, e.topK, q.ProfileID)
	if err != nil {
		return nil, err
	}

	relevant := hits[:0:0]
	for _, h := range hits {
		if h.Score >= e.minRelevance {
			relevant = append(relevant, h)
		}
	}
	e.logger.Debug("retrieved",
		zap.Int("hits", len(hits)),
		zap.Int("relevant", len(relevant)),
		zap.Float64("min_relevance", e.minRelevance),
	)
	if len(relevant) == 0 {
		return &backend.Answer{Matches: 0}, nil
	}

	if !e.model.Valid() {
		return nil, fmt.Errorf("no model configured for answer generation")
	}
	text, err := e.model.Complete(ctx, BuildPrompt(q.Text, relevant))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	ans := &backend.Answer{
		Text:    strings.TrimSpace(text),
		Matches: len(relevant),
		Sources: make([]backend.Source, 0, len(relevant)),
	}
	for _, h := range relevant {
		ans.Signals.Scores = append(ans.Signals.Scores, h.Score)
		ans.Sources = append(ans.Sources, backend.Source{
			ID:       h.ID,
			Kind:     backend.SourceDocument,
			Content:  preview(h.Content),
			Score:    backend.Score(h.Score),
			Metadata: h.Metadata,
		})
	}
	return ans, nil
}

// Search embeds query and returns the k most similar chunks of the profile's
// collection, building the collection first if needed.
func (e *Engine) Search(ctx context.Context, query string, k int, profileID string) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}
	loaded, err := e.catalog.Load(profileID)
	if err != nil {
		return nil, err
	}
	c, err := e.index.Ensure(ctx, loaded)
	if err != nil {
		return nil, fmt.Errorf("prepare collection: %w", err)
	}
	vec, err := e.index.Embedder().EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.index.Store().Search(ctx, c.Name, vec, k)
}

// Rebuild reloads the profile's data and rebuilds its collection.
func (e *Engine) Rebuild(ctx context.Context, profileID string) (*Collection, error) {
	if err := e.catalog.Reload(profileID); err != nil {
		return nil, err
	}
	loaded, err := e.catalog.Load(profileID)
	if err != nil {
		return nil, err
	}
	return e.index.Build(ctx, loaded, true)
}

// Status returns the profile's collection, or nil if it is not built yet.
func (e *Engine) Status(ctx context.Context, profileID string) (*Collection, error) {
	p, err := e.catalog.Profile(profileID)
	if err != nil {
		return nil, err
	}
	return e.index.Store().Collection(ctx, p.Collection())
}

// BuildPrompt renders the answer prompt with hits as context.
func BuildPrompt(question string, hits []Hit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.Content
	}
	return fmt.Sprintf(answerTemplate, strings.Join(parts, "\n\n"), question)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= sourcePreviewChars {
		return s
	}
	return string(r[:sourcePreviewChars]) + "..."
}
