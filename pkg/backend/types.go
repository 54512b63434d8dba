// Package backend defines the answering backends and the adapter boundary
// that turns every backend call into an AttemptResult.
package backend

import (
	"fmt"
	"strings"
	"time"
)

// ID identifies an answering backend.
type ID string

const (
	// Structured synthesizes and executes a query against the tabular dataset.
	Structured ID = "structured"
	// Retrieval answers from semantically retrieved rows with a generator.
	Retrieval ID = "retrieval"
)

// All lists the known backends in their default preference order.
var All = []ID{Structured, Retrieval}

// Other returns the backend that is not id.
func (id ID) Other() ID {
	if id == Structured {
		return Retrieval
	}
	return Structured
}

// Valid reports whether id names a known backend.
func (id ID) Valid() bool {
	return id == Structured || id == Retrieval
}

// Method is the caller's routing request.
type Method string

const (
	MethodAuto       Method = "auto"
	MethodStructured Method = "structured"
	MethodRetrieval  Method = "retrieval"
)

// ParseMethod normalizes a caller-supplied method name. An empty value means
// auto. The legacy names text2query and rag are accepted.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return MethodAuto, nil
	case "structured", "text2query":
		return MethodStructured, nil
	case "retrieval", "rag":
		return MethodRetrieval, nil
	default:
		return "", fmt.Errorf("unknown method %q (want auto, structured or retrieval)", s)
	}
}

// Forced returns the backend a non-auto method pins, and false for auto.
func (m Method) Forced() (ID, bool) {
	switch m {
	case MethodStructured:
		return Structured, true
	case MethodRetrieval:
		return Retrieval, true
	default:
		return "", false
	}
}

// Question is a single user request. It is not modified after creation.
type Question struct {
	Text      string `json:"text"`
	Method    Method `json:"method"`
	ProfileID string `json:"profile_id,omitempty"`
}

// Status is the outcome class of one backend attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusEmpty   Status = "empty"
	StatusError   Status = "error"
)

// Outcome is what the stats recorder counts. Timeouts are errors with their
// own counter.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeEmpty   Outcome = "empty"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// Source is one piece of supporting evidence. The orchestrator never looks inside.
type Source struct {
	ID       string            `json:"id"`
	Kind     string            `json:"kind"`
	Content  string            `json:"content"`
	Score    *float64          `json:"score,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Source kinds.
const (
	SourceRow      = "row"
	SourceQuery    = "query"
	SourceDocument = "document"
)

// Shape describes how a structured answer was rendered.
type Shape string

const (
	ShapeScalar     Shape = "scalar"
	ShapeTable      Shape = "table"
	ShapeParaphrase Shape = "paraphrase"
)

// Signals are the backend facts the response unifier grades confidence on.
type Signals struct {
	Shape  Shape     `json:"shape,omitempty"`
	Scores []float64 `json:"scores,omitempty"`
}

// AttemptResult is the normalized outcome of one backend invocation.
// Answer is non-empty exactly when Status is StatusSuccess.
type AttemptResult struct {
	Backend  ID            `json:"backend"`
	Status   Status        `json:"status"`
	Answer   string        `json:"answer,omitempty"`
	Sources  []Source      `json:"sources,omitempty"`
	Latency  time.Duration `json:"latency"`
	Detail   string        `json:"detail,omitempty"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Signals  Signals       `json:"signals"`
}

// Succeeded reports whether the attempt produced an answer.
func (r AttemptResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Outcome maps the attempt to its stats outcome.
func (r AttemptResult) Outcome() Outcome {
	switch {
	case r.TimedOut:
		return OutcomeTimeout
	case r.Status == StatusSuccess:
		return OutcomeSuccess
	case r.Status == StatusEmpty:
		return OutcomeEmpty
	default:
		return OutcomeError
	}
}

// Score returns a pointer suitable for Source.Score.
func Score(v float64) *float64 {
	return &v
}
