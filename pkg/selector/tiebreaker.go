package selector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/querygate/pkg/adapter"
	"github.com/zen-systems/querygate/pkg/backend"
)

// DefaultTieBreakThreshold is the heuristic confidence below which the LLM is consulted.
const DefaultTieBreakThreshold = 0.65

// DefaultTieBreakTimeout bounds one classifier call.
const DefaultTieBreakTimeout = 10 * time.Second

// ErrClassifierTimeout reports a classifier call that exceeded its budget.
var ErrClassifierTimeout = errors.New("classifier timed out")

// TieBreaker asks an LLM to pick a backend when the base strategy is unsure.
// Classifier failures keep the base decision and are reported as errors so
// the selector can log them.
type TieBreaker struct {
	base      Strategy
	model     adapter.Model
	threshold float64
	timeout   time.Duration
}

// TieBreakerOption configures a TieBreaker.
type TieBreakerOption func(*TieBreaker)

// WithTieBreakTimeout bounds each classifier call. Non-positive values keep
// DefaultTieBreakTimeout.
func WithTieBreakTimeout(d time.Duration) TieBreakerOption {
	return func(t *TieBreaker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// NewTieBreaker wraps base. A threshold of zero uses DefaultTieBreakThreshold.
func NewTieBreaker(base Strategy, model adapter.Model, threshold float64, opts ...TieBreakerOption) *TieBreaker {
	if threshold <= 0 {
		threshold = DefaultTieBreakThreshold
	}
	t := &TieBreaker{base: base, model: model, threshold: threshold, timeout: DefaultTieBreakTimeout}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Classify returns the base decision, overridden by the LLM's pick when the
// base confidence is low and both backends matched.
func (t *TieBreaker) Classify(ctx context.Context, text string) (*Decision, error) {
	decision, err := t.base.Classify(ctx, text)
	if err != nil || decision == nil {
		return decision, err
	}
	if !t.shouldAsk(decision) {
		return decision, nil
	}

	content, err := t.complete(ctx, buildClassifierPrompt(text, decision.Candidates))
	if err != nil {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("classifier error: %v", err))
		return decision, err
	}

	picked, err := parseClassifierResponse(content)
	if err != nil {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("classifier response invalid: %v", err))
		return decision, err
	}
	id := backend.ID(picked.Backend)
	if !id.Valid() {
		decision.Reasons = append(decision.Reasons, "classifier backend not recognized")
		return decision, fmt.Errorf("classifier picked unknown backend %q", picked.Backend)
	}
	if picked.Confidence < 0 || picked.Confidence > 1 {
		decision.Reasons = append(decision.Reasons, "classifier confidence out of range")
		return decision, fmt.Errorf("classifier confidence out of range")
	}

	decision.Preferred = id
	decision.Confidence = picked.Confidence
	decision.UsedLLM = true
	decision.ClassifierAdapter = t.model.Adapter.Name()
	decision.ClassifierModel = t.model.ID
	decision.Reasons = append(decision.Reasons, picked.Reason)
	return decision, nil
}

type completion struct {
	content string
	err     error
}

// complete runs the classifier call under the tie-break timeout. It returns
// when the call finishes or the budget runs out, even if the adapter ignores
// its context; an abandoned call settles in the background.
func (t *TieBreaker) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan completion, 1)
	go func() {
		content, err := t.model.Complete(ctx, prompt)
		done <- completion{content: content, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w after %s", ErrClassifierTimeout, t.timeout)
		}
		return res.content, res.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w after %s", ErrClassifierTimeout, t.timeout)
		}
		return "", ctx.Err()
	}
}

func (t *TieBreaker) shouldAsk(d *Decision) bool {
	if !t.model.Valid() {
		return false
	}
	return d.Confidence < t.threshold && len(d.Candidates) > 1
}

type classifierPick struct {
	Backend    string  `json:"backend"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func parseClassifierResponse(content string) (*classifierPick, error) {
	content = stripFence(content)

	var pick classifierPick
	if err := json.Unmarshal([]byte(content), &pick); err != nil {
		return nil, err
	}
	if pick.Backend == "" {
		return nil, fmt.Errorf("missing backend")
	}
	pick.Backend = strings.ToLower(strings.TrimSpace(pick.Backend))
	return &pick, nil
}

func stripFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func buildClassifierPrompt(question string, candidates []Candidate) string {
	var sb strings.Builder
	sb.WriteString("You route questions about a tabular dataset to one of two answering methods.\n")
	sb.WriteString("- structured: translate the question into filters and aggregations over the table. Best for counts, totals, averages, rankings and exact lookups.\n")
	sb.WriteString("- retrieval: search the rows semantically and summarize what they say. Best for descriptive, opinion or free-text questions.\n")
	sb.WriteString("Return ONLY JSON: {\"backend\":\"structured|retrieval\",\"confidence\":0-1,\"reason\":\"...\"}.\n\n")
	sb.WriteString("Question:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nHeuristic matches:\n")
	for _, c := range candidates {
		sb.WriteString(fmt.Sprintf("- %s (score=%d)", c.Backend, c.Score))
		if len(c.Triggers) > 0 {
			sb.WriteString(fmt.Sprintf(" triggers: %s", strings.Join(c.Triggers, ", ")))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// logged is used by the selector to report non-fatal classifier problems.
func logged(logger *zap.Logger, d *Decision, err error) {
	if err == nil {
		return
	}
	fields := []zap.Field{zap.Error(err)}
	if d != nil {
		fields = append(fields, zap.String("kept", string(d.Preferred)))
	}
	logger.Warn("classifier failed; keeping heuristic decision", fields...)
}
