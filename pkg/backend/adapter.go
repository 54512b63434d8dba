package backend

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Answer is what a backend engine hands back before normalization.
// Matches counts result rows (structured) or qualifying hits (retrieval).
type Answer struct {
	Text    string
	Sources []Source
	Signals Signals
	Matches int
}

// Engine is implemented by each answering backend.
type Engine interface {
	Answer(ctx context.Context, q Question) (*Answer, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, q Question) (*Answer, error)

// Answer calls f.
func (f EngineFunc) Answer(ctx context.Context, q Question) (*Answer, error) {
	return f(ctx, q)
}

// Recorder receives one record per attempt.
type Recorder interface {
	Record(id ID, outcome Outcome, latency time.Duration)
}

// Adapter invokes one backend and always returns a normalized result.
type Adapter interface {
	ID() ID
	Attempt(ctx context.Context, q Question) AttemptResult
}

// TimeoutError reports an attempt that exceeded its time budget.
type TimeoutError struct {
	Backend ID
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s backend timed out after %s", e.Backend, e.After)
}

// PanicError reports a backend call that panicked.
type PanicError struct {
	Backend ID
	Value   any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s backend panicked: %v", e.Backend, e.Value)
}

// Guard is the Adapter implementation shared by both backends. It runs the
// engine call on its own goroutine so panics and overruns never escape, and
// reports every attempt to the recorder exactly once.
type Guard struct {
	id       ID
	engine   Engine
	recorder Recorder
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithTimeout sets the per-attempt time budget. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) { g.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock overrides the clock used for latency.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard wraps engine as the adapter for backend id.
func NewGuard(id ID, engine Engine, recorder Recorder, opts ...Option) *Guard {
	g := &Guard{
		id:       id,
		engine:   engine,
		recorder: recorder,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("backend").With(zap.String("backend", string(id)))
	return g
}

// ID returns the backend this adapter invokes.
func (g *Guard) ID() ID {
	return g.id
}

type callResult struct {
	answer *Answer
	err    error
}

// Attempt runs the backend once. It never panics and never returns without
// recording the attempt.
func (g *Guard) Attempt(ctx context.Context, q Question) AttemptResult {
	start := g.now()

	// The call keeps running on a context detached from the caller so a
	// timed-out or abandoned attempt can settle on its own.
	callCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if g.timeout > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, g.timeout)
	}

	done := make(chan callResult, 1)
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("backend panic recovered",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				done <- callResult{err: &PanicError{Backend: g.id, Value: r}}
			}
		}()
		ans, err := g.engine.Answer(callCtx, q)
		done <- callResult{answer: ans, err: err}
	}()

	var timer <-chan time.Time
	if g.timeout > 0 {
		t := time.NewTimer(g.timeout)
		defer t.Stop()
		timer = t.C
	}

	var result AttemptResult
	select {
	case res := <-done:
		result = g.judge(res)
	case <-timer:
		select {
		case res := <-done:
			result = g.judge(res)
		default:
			err := &TimeoutError{Backend: g.id, After: g.timeout}
			result = AttemptResult{Status: StatusError, Detail: err.Error(), TimedOut: true}
		}
	case <-ctx.Done():
		result = AttemptResult{Status: StatusError, Detail: fmt.Sprintf("attempt abandoned: %v", ctx.Err())}
	}

	result.Backend = g.id
	result.Latency = g.now().Sub(start)
	if g.recorder != nil {
		g.recorder.Record(g.id, result.Outcome(), result.Latency)
	}

	g.logger.Debug("attempt finished",
		zap.String("status", string(result.Status)),
		zap.Duration("latency", result.Latency),
		zap.String("detail", result.Detail),
	)
	return result
}

// judge classifies a finished call.
func (g *Guard) judge(res callResult) AttemptResult {
	if res.err != nil {
		var timeoutErr *TimeoutError
		timedOut := errors.Is(res.err, context.DeadlineExceeded) || errors.As(res.err, &timeoutErr)
		return AttemptResult{Status: StatusError, Detail: res.err.Error(), TimedOut: timedOut}
	}
	ans := res.answer
	if ans == nil {
		return AttemptResult{Status: StatusError, Detail: "backend returned no answer"}
	}
	if ans.Matches <= 0 {
		return AttemptResult{Status: StatusEmpty, Detail: g.emptyDetail()}
	}
	if strings.TrimSpace(ans.Text) == "" {
		return AttemptResult{Status: StatusError, Detail: "backend returned a blank answer"}
	}
	return AttemptResult{
		Status:  StatusSuccess,
		Answer:  ans.Text,
		Sources: ans.Sources,
		Signals: ans.Signals,
	}
}

func (g *Guard) emptyDetail() string {
	if g.id == Structured {
		return "query matched no rows"
	}
	return "no sufficiently relevant documents"
}
