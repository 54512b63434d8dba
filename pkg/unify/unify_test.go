package unify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zen-systems/querygate/pkg/backend"
)

var fixed = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixed }

func TestGrade(t *testing.T) {
	u := New(DefaultPolicy(), clock)
	tests := []struct {
		name   string
		result backend.AttemptResult
		want   Confidence
	}{
		{
			name:   "structured scalar",
			result: backend.AttemptResult{Backend: backend.Structured, Status: backend.StatusSuccess, Answer: "42", Signals: backend.Signals{Shape: backend.ShapeScalar}},
			want:   ConfidenceHigh,
		},
		{
			name:   "structured table",
			result: backend.AttemptResult{Backend: backend.Structured, Status: backend.StatusSuccess, Answer: "a,b", Signals: backend.Signals{Shape: backend.ShapeTable}},
			want:   ConfidenceHigh,
		},
		{
			name:   "structured paraphrase",
			result: backend.AttemptResult{Backend: backend.Structured, Status: backend.StatusSuccess, Answer: "many rows", Signals: backend.Signals{Shape: backend.ShapeParaphrase}},
			want:   ConfidenceMedium,
		},
		{
			name:   "retrieval strong",
			result: backend.AttemptResult{Backend: backend.Retrieval, Status: backend.StatusSuccess, Answer: "x", Signals: backend.Signals{Scores: []float64{0.9, 0.8}}},
			want:   ConfidenceMedium,
		},
		{
			name:   "retrieval marginal",
			result: backend.AttemptResult{Backend: backend.Retrieval, Status: backend.StatusSuccess, Answer: "x", Signals: backend.Signals{Scores: []float64{0.9, 0.4}}},
			want:   ConfidenceLow,
		},
		{
			name:   "retrieval without scores",
			result: backend.AttemptResult{Backend: backend.Retrieval, Status: backend.StatusSuccess, Answer: "x"},
			want:   ConfidenceLow,
		},
		{
			name:   "failed attempt",
			result: backend.AttemptResult{Backend: backend.Structured, Status: backend.StatusError},
			want:   ConfidenceNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, u.Grade(tt.result))
		})
	}
}

func TestUnifyPassesSourcesThrough(t *testing.T) {
	u := New(DefaultPolicy(), clock)
	sources := []backend.Source{
		{ID: "row-1", Kind: backend.SourceRow, Content: "BRAND=Samsung"},
		{ID: "row-2", Kind: backend.SourceRow, Content: "BRAND=GE", Score: backend.Score(0.81)},
	}
	q := backend.Question{Text: "which brands", Method: backend.MethodAuto, ProfileID: "fridges"}
	resp := u.Unify(q, backend.AttemptResult{
		Backend: backend.Retrieval,
		Status:  backend.StatusSuccess,
		Answer:  "Samsung and GE",
		Sources: sources,
		Signals: backend.Signals{Scores: []float64{0.9, 0.81}},
	}, 1500*time.Millisecond)

	assert.Equal(t, sources, resp.Sources)
	assert.Equal(t, "retrieval", resp.MethodUsed)
	assert.Equal(t, ConfidenceMedium, resp.Confidence)
	assert.Equal(t, 1.5, resp.ExecutionTime)
	assert.Equal(t, fixed, resp.Timestamp)
	assert.Equal(t, "fridges", resp.Profile)
	assert.Empty(t, resp.Error)
}

func TestUnifyIsDeterministic(t *testing.T) {
	u := New(DefaultPolicy(), clock)
	q := backend.Question{Text: "total", Method: backend.MethodAuto}
	r := backend.AttemptResult{Backend: backend.Structured, Status: backend.StatusSuccess, Answer: "42", Signals: backend.Signals{Shape: backend.ShapeScalar}}
	assert.Equal(t, u.Unify(q, r, time.Second), u.Unify(q, r, time.Second))
}

func TestFailure(t *testing.T) {
	u := New(Policy{}, clock)
	resp := u.Failure(backend.Question{Text: "q"}, "retrieval: no sufficiently relevant documents", time.Second)
	assert.Equal(t, ConfidenceNone, resp.Confidence)
	assert.Equal(t, FailureAnswer, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.NotNil(t, resp.Sources)
	assert.Equal(t, MethodNone, resp.MethodUsed)
	assert.Contains(t, resp.Error, "relevant")
}
