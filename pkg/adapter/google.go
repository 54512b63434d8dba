package adapter

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GoogleAdapter generates with Gemini models.
type GoogleAdapter struct {
	client *genai.Client
	params Params
}

// NewGoogleAdapter creates a Gemini adapter that applies params to every call.
func NewGoogleAdapter(apiKey string, params Params) (*GoogleAdapter, error) {
	client, err := NewGenAIClient(context.Background(), apiKey)
	if err != nil {
		return nil, err
	}
	return &GoogleAdapter{client: client, params: params.normalized()}, nil
}

// NewGenAIClient builds a Gemini API client. The retrieval embedder shares it.
func NewGenAIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	return client, nil
}

// Client exposes the underlying Gemini client.
func (a *GoogleAdapter) Client() *genai.Client {
	return a.client
}

// Name returns the adapter identifier.
func (a *GoogleAdapter) Name() string {
	return "google"
}

// Models returns the list of supported Gemini models.
func (a *GoogleAdapter) Models() []string {
	return []string{
		"gemini-1.5-flash",
		"gemini-2.0-flash",
		"gemini-2.5-pro",
	}
}

// Generate sends a prompt to Gemini and joins the first candidate's text parts.
func (a *GoogleAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(a.params.MaxTokens)}
	if a.params.Temperature >= 0 {
		cfg.Temperature = genai.Ptr(float32(a.params.Temperature))
	}

	resp, err := a.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return nil, wrapSDKError(a.Name(), err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &AdapterError{Provider: a.Name(), Err: errEmptyCompletion}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return nil, &AdapterError{Provider: a.Name(), Err: errEmptyCompletion}
	}

	out := &Response{Content: sb.String(), Adapter: a.Name(), Model: model}
	if meta := resp.UsageMetadata; meta != nil {
		out.Usage = &Usage{
			PromptTokens:     int(meta.PromptTokenCount),
			CompletionTokens: int(meta.CandidatesTokenCount),
			TotalTokens:      int(meta.TotalTokenCount),
		}
	}
	return out, nil
}
