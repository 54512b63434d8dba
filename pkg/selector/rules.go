package selector

import (
	"sort"
	"strings"

	"github.com/zen-systems/querygate/pkg/backend"
)

// Vocabulary maps each backend to the trigger phrases that suggest it.
type Vocabulary map[backend.ID][]string

// DefaultVocabulary favors the structured backend for counting, ranking,
// aggregation and filtering questions, and the retrieval backend for
// descriptive or opinion questions over free text.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		backend.Structured: {
			"how many", "how much", "count", "number of", "total", "sum",
			"average", "avg", "mean", "median", "maximum", "minimum", "max", "min",
			"highest", "lowest", "most", "least", "top", "bottom", "rank",
			"group by", "per", "each", "by brand", "by store",
			"between", "greater than", "less than", "above", "below", "more than", "fewer than",
			"list", "show me all", "filter", "sort", "percentage", "ratio",
			"before", "after", "in january", "last month", "this year", "date range",
		},
		backend.Retrieval: {
			"why", "explain", "describe", "opinion", "feedback", "review", "reviews",
			"complaint", "complaints", "feel", "think", "say about", "sentiment",
			"recommend", "experience", "mention", "mentions", "summarize", "summary",
			"tell me about", "what do customers", "similar to", "issues", "problems",
		},
	}
}

// rule is a compiled trigger.
type rule struct {
	backend backend.ID
	trigger string
}

// RuleSet holds the vocabulary compiled longest trigger first so specific
// phrases claim their words before generic ones.
type RuleSet struct {
	rules []rule
}

// NewRuleSet compiles a vocabulary.
func NewRuleSet(vocab Vocabulary) *RuleSet {
	rs := &RuleSet{}
	seen := make(map[rule]bool)
	for id, triggers := range vocab {
		for _, t := range triggers {
			r := rule{backend: id, trigger: strings.ToLower(strings.TrimSpace(t))}
			if r.trigger == "" || seen[r] {
				continue
			}
			seen[r] = true
			rs.rules = append(rs.rules, r)
		}
	}
	sort.Slice(rs.rules, func(i, j int) bool {
		a, b := rs.rules[i], rs.rules[j]
		if len(a.trigger) != len(b.trigger) {
			return len(a.trigger) > len(b.trigger)
		}
		if a.trigger != b.trigger {
			return a.trigger < b.trigger
		}
		return a.backend < b.backend
	})
	return rs
}

// Match returns the triggers found in text per backend. A matched phrase
// masks its span, so "how many" does not also count as "many".
func (rs *RuleSet) Match(text string) map[backend.ID][]string {
	work := []byte(strings.ToLower(text))
	out := make(map[backend.ID][]string)
	for _, r := range rs.rules {
		idx := indexTrigger(string(work), r.trigger)
		if idx < 0 {
			continue
		}
		out[r.backend] = append(out[r.backend], r.trigger)
		for i := idx; i < idx+len(r.trigger); i++ {
			work[i] = ' '
		}
	}
	return out
}

// Triggers lists the compiled rules for display.
func (rs *RuleSet) Triggers() map[backend.ID][]string {
	out := make(map[backend.ID][]string)
	for _, r := range rs.rules {
		out[r.backend] = append(out[r.backend], r.trigger)
	}
	return out
}

// indexTrigger finds the first word-bounded occurrence of trigger in text.
func indexTrigger(text, trigger string) int {
	offset := 0
	for {
		idx := strings.Index(text[offset:], trigger)
		if idx == -1 {
			return -1
		}
		idx += offset
		if boundedAt(text, idx, len(trigger)) {
			return idx
		}
		offset = idx + 1
		if offset >= len(text) {
			return -1
		}
	}
}

// containsTrigger checks if the text contains the trigger as a whole word or phrase.
func containsTrigger(text, trigger string) bool {
	return indexTrigger(text, trigger) >= 0
}

func boundedAt(text string, idx, n int) bool {
	if idx > 0 && isWordChar(text[idx-1]) {
		return false
	}
	end := idx + n
	if end < len(text) && isWordChar(text[end]) {
		return false
	}
	return true
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
