package adapter

import "context"

// Adapter defines the interface for LLM provider adapters.
type Adapter interface {
	// Generate sends a prompt to the model and returns its text response.
	Generate(ctx context.Context, model string, prompt string) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// Model pins an adapter to a single model so callers only pass prompts.
type Model struct {
	Adapter Adapter
	ID      string
}

// Complete runs the prompt against the pinned model and returns the text.
func (m Model) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := m.Adapter.Generate(ctx, m.ID, prompt)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Valid reports whether the model has an adapter attached.
func (m Model) Valid() bool {
	return m.Adapter != nil
}
