package selector

import (
	"context"
	"fmt"
	"sort"

	"github.com/zen-systems/querygate/pkg/backend"
)

// Strategy classifies question text into a preferred backend. It only
// affects ordering; both backends are still attempted in auto mode.
type Strategy interface {
	Classify(ctx context.Context, text string) (*Decision, error)
}

// HeuristicStrategy scores backends by trigger vocabulary matches.
type HeuristicStrategy struct {
	rules    *RuleSet
	fallback backend.ID
}

// NewHeuristicStrategy compiles vocab. Questions with no signal, or a tied
// score, go to fallback.
func NewHeuristicStrategy(vocab Vocabulary, fallback backend.ID) *HeuristicStrategy {
	if !fallback.Valid() {
		fallback = backend.Structured
	}
	return &HeuristicStrategy{rules: NewRuleSet(vocab), fallback: fallback}
}

// Rules exposes the compiled vocabulary.
func (h *HeuristicStrategy) Rules() *RuleSet {
	return h.rules
}

// Classify never fails.
func (h *HeuristicStrategy) Classify(_ context.Context, text string) (*Decision, error) {
	return HeuristicDecision(text, h.rules, h.fallback), nil
}

// HeuristicDecision scores backends using trigger matches.
func HeuristicDecision(text string, rules *RuleSet, fallback backend.ID) *Decision {
	matches := rules.Match(text)

	var candidates []Candidate
	for id, triggers := range matches {
		candidates = append(candidates, Candidate{Backend: id, Score: len(triggers), Triggers: triggers})
	}

	if len(candidates) == 0 {
		return &Decision{
			Preferred:  fallback,
			Confidence: 0,
			Reasons:    []string{fmt.Sprintf("no triggers matched; using default %s", fallback)},
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			// Ties go to the fallback backend.
			if candidates[i].Backend == fallback {
				return true
			}
			if candidates[j].Backend == fallback {
				return false
			}
			return candidates[i].Backend < candidates[j].Backend
		}
		return candidates[i].Score > candidates[j].Score
	})

	topScore := candidates[0].Score
	secondScore := 0
	if len(candidates) > 1 {
		secondScore = candidates[1].Score
	}

	margin := float64(topScore-secondScore) / float64(max(topScore, 1))
	strength := float64(min(topScore, 5)) / 5.0
	confidence := 0.75*margin + 0.25*strength
	if topScore >= 2 && secondScore == 0 {
		confidence = max(confidence, 0.9)
	}
	if topScore >= 3 {
		confidence = min(confidence+0.15, 1.0)
	}

	return &Decision{
		Preferred:  candidates[0].Backend,
		Confidence: confidence,
		Reasons:    []string{fmt.Sprintf("top_score=%d second_score=%d", topScore, secondScore)},
		Candidates: candidates,
	}
}
