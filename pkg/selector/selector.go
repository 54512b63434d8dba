// Package selector decides which backends to attempt for a question, and in
// what order.
package selector

import (
	"context"

	"go.uber.org/zap"

	"github.com/zen-systems/querygate/pkg/backend"
)

// Selector turns a question into an attempt plan.
type Selector struct {
	strategy Strategy
	fallback backend.ID
	logger   *zap.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Selector) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFallback sets the backend preferred when the strategy gives no answer.
func WithFallback(id backend.ID) Option {
	return func(s *Selector) {
		if id.Valid() {
			s.fallback = id
		}
	}
}

// New creates a selector. A nil strategy uses the default vocabulary.
func New(strategy Strategy, opts ...Option) *Selector {
	s := &Selector{fallback: backend.Structured, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if strategy == nil {
		strategy = NewHeuristicStrategy(DefaultVocabulary(), s.fallback)
	}
	s.strategy = strategy
	s.logger = s.logger.Named("selector")
	return s
}

// Select returns the plan for q. A forced method yields exactly that backend
// with no fallback. Auto yields the preferred backend followed by the other.
func (s *Selector) Select(ctx context.Context, q backend.Question) (Plan, error) {
	if id, forced := q.Method.Forced(); forced {
		return Plan{Order: []backend.ID{id}, Forced: true}, nil
	}
	if q.Method != backend.MethodAuto && q.Method != "" {
		return Plan{}, &UnknownMethodError{Method: string(q.Method)}
	}

	decision, err := s.strategy.Classify(ctx, q.Text)
	logged(s.logger, decision, err)
	if decision == nil || !decision.Preferred.Valid() {
		decision = &Decision{Preferred: s.fallback, Reasons: []string{"strategy gave no decision; using default"}}
	}

	s.logger.Debug("method selected",
		zap.String("preferred", string(decision.Preferred)),
		zap.Float64("confidence", decision.Confidence),
		zap.Bool("used_llm", decision.UsedLLM),
	)
	return Plan{
		Order:    []backend.ID{decision.Preferred, decision.Preferred.Other()},
		Decision: decision,
	}, nil
}

// UnknownMethodError reports a method outside auto, structured and retrieval.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return "unknown method " + e.Method
}
