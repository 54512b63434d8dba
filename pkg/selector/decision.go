package selector

import "github.com/zen-systems/querygate/pkg/backend"

// Candidate captures one backend's heuristic score.
type Candidate struct {
	Backend  backend.ID `json:"backend"`
	Score    int        `json:"score"`
	Triggers []string   `json:"triggers,omitempty"`
}

// Decision captures how a question was classified.
type Decision struct {
	Preferred         backend.ID  `json:"preferred"`
	Confidence        float64     `json:"confidence"`
	Reasons           []string    `json:"reasons,omitempty"`
	Candidates        []Candidate `json:"candidates,omitempty"`
	UsedLLM           bool        `json:"used_llm"`
	ClassifierAdapter string      `json:"classifier_adapter,omitempty"`
	ClassifierModel   string      `json:"classifier_model,omitempty"`
}

// Plan is the ordered list of backends to attempt for one question.
type Plan struct {
	Order    []backend.ID `json:"order"`
	Forced   bool         `json:"forced"`
	Decision *Decision    `json:"decision,omitempty"`
}
