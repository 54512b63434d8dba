package orchestrator

import (
	"fmt"
	"strings"

	"github.com/zen-systems/querygate/pkg/backend"
	"github.com/zen-systems/querygate/pkg/unify"
)

// ValidationError reports a question rejected before any backend ran.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AllBackendsFailedError reports that every planned attempt failed. Response
// carries the well-formed failure payload for callers that still want to
// answer the user.
type AllBackendsFailedError struct {
	Attempts []backend.AttemptResult
	Response *unify.Response
}

func (e *AllBackendsFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Backend, a.Detail))
	}
	if len(parts) == 0 {
		return "all backends failed"
	}
	return "all backends failed: " + strings.Join(parts, "; ")
}

// LastDetail returns the detail of the final attempt.
func (e *AllBackendsFailedError) LastDetail() string {
	if len(e.Attempts) == 0 {
		return ""
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("%s: %s", last.Backend, last.Detail)
}
