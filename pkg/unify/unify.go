// Package unify converts backend attempt results into the single response
// shape returned to callers, and grades confidence.
package unify

import (
	"time"

	"github.com/zen-systems/querygate/pkg/backend"
)

// Confidence is the coarse trust level attached to every response.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// MethodNone marks a response that no backend produced.
const MethodNone = "none"

// FailureAnswer is the fixed answer returned when every backend failed.
const FailureAnswer = "I'm sorry, I couldn't find an answer to your question. Please try rephrasing it or providing more specific details."

// Response is the normalized answer payload.
type Response struct {
	Question      string           `json:"question"`
	Answer        string           `json:"answer"`
	Sources       []backend.Source `json:"sources"`
	Confidence    Confidence       `json:"confidence"`
	MethodUsed    string           `json:"method_used"`
	ExecutionTime float64          `json:"execution_time"`
	Timestamp     time.Time        `json:"timestamp"`
	Profile       string           `json:"profile,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Policy holds the relevance cut-offs used to grade retrieval answers.
type Policy struct {
	// StrongRelevance is the score every source must reach for a retrieval
	// answer to be graded medium.
	StrongRelevance float64
}

// DefaultPolicy returns the default grading thresholds.
func DefaultPolicy() Policy {
	return Policy{StrongRelevance: 0.75}
}

// Unifier builds responses. It is pure apart from the injected clock.
type Unifier struct {
	policy Policy
	now    func() time.Time
}

// New creates a unifier. A nil clock uses time.Now.
func New(policy Policy, now func() time.Time) *Unifier {
	if now == nil {
		now = time.Now
	}
	if policy.StrongRelevance <= 0 {
		policy.StrongRelevance = DefaultPolicy().StrongRelevance
	}
	return &Unifier{policy: policy, now: now}
}

// Unify converts a successful attempt into a response.
func (u *Unifier) Unify(q backend.Question, result backend.AttemptResult, elapsed time.Duration) *Response {
	sources := result.Sources
	if sources == nil {
		sources = []backend.Source{}
	}
	return &Response{
		Question:      q.Text,
		Answer:        result.Answer,
		Sources:       sources,
		Confidence:    u.Grade(result),
		MethodUsed:    string(result.Backend),
		ExecutionTime: elapsed.Seconds(),
		Timestamp:     u.now().UTC(),
		Profile:       q.ProfileID,
	}
}

// Failure builds the all-backends-failed response.
func (u *Unifier) Failure(q backend.Question, detail string, elapsed time.Duration) *Response {
	return &Response{
		Question:      q.Text,
		Answer:        FailureAnswer,
		Sources:       []backend.Source{},
		Confidence:    ConfidenceNone,
		MethodUsed:    MethodNone,
		ExecutionTime: elapsed.Seconds(),
		Timestamp:     u.now().UTC(),
		Profile:       q.ProfileID,
		Error:         detail,
	}
}

// Grade applies the confidence policy to a successful attempt.
//
//	structured, scalar or table       high
//	structured, paraphrase            medium
//	retrieval, all sources strong     medium
//	retrieval, otherwise              low
func (u *Unifier) Grade(result backend.AttemptResult) Confidence {
	if !result.Succeeded() {
		return ConfidenceNone
	}
	switch result.Backend {
	case backend.Structured:
		if result.Signals.Shape == backend.ShapeParaphrase {
			return ConfidenceMedium
		}
		return ConfidenceHigh
	case backend.Retrieval:
		scores := result.Signals.Scores
		if len(scores) == 0 {
			return ConfidenceLow
		}
		for _, s := range scores {
			if s < u.policy.StrongRelevance {
				return ConfidenceLow
			}
		}
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
