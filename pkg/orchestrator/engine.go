// Package orchestrator answers questions by running the selected backends in
// order until one succeeds.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zen-systems/querygate/pkg/backend"
	"github.com/zen-systems/querygate/pkg/selector"
	"github.com/zen-systems/querygate/pkg/stats"
	"github.com/zen-systems/querygate/pkg/unify"
)

const tracerName = "github.com/zen-systems/querygate/orchestrator"

// Engine is the question-answering orchestrator.
type Engine struct {
	selector *selector.Selector
	adapters map[backend.ID]backend.Adapter
	unifier  *unify.Unifier
	stats    *stats.Recorder
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer. The global tracer provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithClock overrides the clock used for elapsed time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New wires an engine. Adapters are keyed by their backend ID; a backend
// without an adapter is reported unavailable.
func New(sel *selector.Selector, adapters []backend.Adapter, unifier *unify.Unifier, recorder *stats.Recorder, opts ...Option) (*Engine, error) {
	if sel == nil || unifier == nil || recorder == nil {
		return nil, fmt.Errorf("orchestrator requires a selector, unifier and stats recorder")
	}
	e := &Engine{
		selector: sel,
		adapters: make(map[backend.ID]backend.Adapter, len(adapters)),
		unifier:  unifier,
		stats:    recorder,
		tracer:   otel.Tracer(tracerName),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		if !a.ID().Valid() {
			return nil, fmt.Errorf("adapter for unknown backend %q", a.ID())
		}
		e.adapters[a.ID()] = a
	}
	if len(e.adapters) == 0 {
		return nil, fmt.Errorf("orchestrator requires at least one backend adapter")
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("orchestrator")
	return e, nil
}

// Ask validates the raw request and answers it.
func (e *Engine) Ask(ctx context.Context, text, method, profileID string) (*unify.Response, error) {
	m, err := backend.ParseMethod(method)
	if err != nil {
		return nil, &ValidationError{Field: "method", Reason: err.Error()}
	}
	return e.AskQuestion(ctx, backend.Question{Text: text, Method: m, ProfileID: profileID})
}

// AskQuestion answers q. On success it returns the unified response. When
// every planned backend fails it returns an *AllBackendsFailedError whose
// Response is the confidence-none payload.
func (e *Engine) AskQuestion(ctx context.Context, q backend.Question) (*unify.Response, error) {
	start := e.now()
	q.Text = strings.TrimSpace(q.Text)
	if q.Method == "" {
		q.Method = backend.MethodAuto
	}

	ctx, span := e.tracer.Start(ctx, "orchestrator.ask",
		trace.WithAttributes(
			attribute.String("querygate.method", string(q.Method)),
			attribute.String("querygate.profile", q.ProfileID),
		),
	)
	defer span.End()

	if q.Text == "" {
		err := &ValidationError{Field: "question", Reason: "question text is empty"}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	plan, err := e.selector.Select(ctx, q)
	if err != nil {
		verr := &ValidationError{Field: "method", Reason: err.Error()}
		span.SetStatus(codes.Error, verr.Error())
		return nil, verr
	}
	span.SetAttributes(attribute.StringSlice("querygate.plan", planStrings(plan.Order)))

	attempts := make([]backend.AttemptResult, 0, len(plan.Order))
	for i, id := range plan.Order {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, backend.AttemptResult{
				Backend: id,
				Status:  backend.StatusError,
				Detail:  fmt.Sprintf("not attempted: %v", err),
			})
			break
		}

		result := e.attempt(ctx, id, q, i)
		attempts = append(attempts, result)
		if result.Succeeded() {
			resp := e.unifier.Unify(q, result, e.now().Sub(start))
			span.SetAttributes(
				attribute.String("querygate.method_used", resp.MethodUsed),
				attribute.String("querygate.confidence", string(resp.Confidence)),
			)
			e.logger.Info("question answered",
				zap.String("method_used", resp.MethodUsed),
				zap.String("confidence", string(resp.Confidence)),
				zap.Int("attempts", len(attempts)),
				zap.Float64("execution_time", resp.ExecutionTime),
			)
			return resp, nil
		}

		if i+1 < len(plan.Order) {
			e.logger.Info("backend did not answer; falling back",
				zap.String("backend", string(id)),
				zap.String("status", string(result.Status)),
				zap.String("detail", result.Detail),
				zap.String("next", string(plan.Order[i+1])),
			)
		}
	}

	failure := &AllBackendsFailedError{Attempts: attempts}
	failure.Response = e.unifier.Failure(q, failure.LastDetail(), e.now().Sub(start))
	span.SetStatus(codes.Error, "all backends failed")
	e.logger.Warn("all backends failed",
		zap.Int("attempts", len(attempts)),
		zap.String("detail", failure.Error()),
	)
	return nil, failure
}

func (e *Engine) attempt(ctx context.Context, id backend.ID, q backend.Question, index int) backend.AttemptResult {
	ctx, span := e.tracer.Start(ctx, "orchestrator.attempt",
		trace.WithAttributes(
			attribute.String("querygate.backend", string(id)),
			attribute.Int("querygate.attempt", index),
		),
	)
	defer span.End()

	a, ok := e.adapters[id]
	if !ok {
		// Recorded so per-backend totals match the attempts reported.
		e.stats.Record(id, backend.OutcomeError, 0)
		span.SetStatus(codes.Error, "backend not configured")
		return backend.AttemptResult{Backend: id, Status: backend.StatusError, Detail: "backend not configured"}
	}

	result := a.Attempt(ctx, q)
	span.SetAttributes(
		attribute.String("querygate.status", string(result.Status)),
		attribute.Int64("querygate.latency_ms", result.Latency.Milliseconds()),
	)
	if !result.Succeeded() {
		span.SetStatus(codes.Error, result.Detail)
	}
	return result
}

// MethodInfo describes one answering method for discovery endpoints.
type MethodInfo struct {
	Method      string   `json:"method"`
	Aliases     []string `json:"aliases,omitempty"`
	Available   bool     `json:"available"`
	Description string   `json:"description"`
}

// AvailableMethods lists the methods a caller may request.
func (e *Engine) AvailableMethods() []MethodInfo {
	_, hasStructured := e.adapters[backend.Structured]
	_, hasRetrieval := e.adapters[backend.Retrieval]
	return []MethodInfo{
		{
			Method:      string(backend.MethodAuto),
			Available:   hasStructured || hasRetrieval,
			Description: "Pick the most suitable backend and fall back to the other if it cannot answer.",
		},
		{
			Method:      string(backend.MethodStructured),
			Aliases:     []string{"text2query"},
			Available:   hasStructured,
			Description: "Translate the question into a query over the dataset and execute it.",
		},
		{
			Method:      string(backend.MethodRetrieval),
			Aliases:     []string{"rag"},
			Available:   hasRetrieval,
			Description: "Retrieve the most relevant rows and generate an answer from them.",
		},
	}
}

// Stats returns the derived per-backend summary.
func (e *Engine) Stats() map[backend.ID]stats.Summary {
	return e.stats.Summary()
}

// Snapshot returns the raw per-backend counters.
func (e *Engine) Snapshot() stats.Snapshot {
	return e.stats.Snapshot()
}

func planStrings(ids []backend.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
