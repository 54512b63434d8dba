package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	deepseekBaseURL = "https://api.deepseek.com/v1"
	maxDeepSeekBody = 8 << 20
)

// DeepSeekAdapter talks to DeepSeek's OpenAI-compatible chat API over plain
// HTTP.
type DeepSeekAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	params     Params
}

type deepseekRequest struct {
	Model       string            `json:"model"`
	Messages    []deepseekMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
}

type deepseekMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type deepseekResponse struct {
	Choices []struct {
		Message deepseekMessage `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewDeepSeekAdapter creates a new DeepSeek adapter.
func NewDeepSeekAdapter(apiKey string, params Params) (*DeepSeekAdapter, error) {
	return NewDeepSeekAdapterWithURL(apiKey, deepseekBaseURL, &http.Client{}, params)
}

// NewDeepSeekAdapterWithURL points the adapter at any OpenAI-compatible endpoint.
func NewDeepSeekAdapterWithURL(apiKey, baseURL string, client *http.Client, params Params) (*DeepSeekAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek API key is required")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &DeepSeekAdapter{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: client,
		params:     params.normalized(),
	}, nil
}

func (a *DeepSeekAdapter) Name() string { return "deepseek" }

func (a *DeepSeekAdapter) Models() []string {
	return []string{"deepseek-chat", "deepseek-reasoner"}
}

// Generate sends a single-turn chat completion to DeepSeek.
func (a *DeepSeekAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	req := deepseekRequest{
		Model:     model,
		Messages:  []deepseekMessage{{Role: "user", Content: prompt}},
		MaxTokens: a.params.MaxTokens,
	}
	if t := a.params.Temperature; t >= 0 {
		req.Temperature = &t
	}

	var out deepseekResponse
	if err := a.post(ctx, "/chat/completions", req, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, &AdapterError{
			Provider: a.Name(),
			Err:      fmt.Errorf("%s (type=%s code=%s)", out.Error.Message, out.Error.Type, out.Error.Code),
		}
	}
	if len(out.Choices) == 0 {
		return nil, &AdapterError{Provider: a.Name(), Err: errEmptyCompletion}
	}
	content := out.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, &AdapterError{Provider: a.Name(), Err: errEmptyCompletion}
	}

	usage := out.Usage
	return &Response{Content: content, Adapter: a.Name(), Model: model, Usage: &usage}, nil
}

// post sends body as JSON and decodes a 200 response into out. Transport
// failures are marked temporary; other statuses keep their code.
func (a *DeepSeekAdapter) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode deepseek request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &AdapterError{Provider: a.Name(), Temporary: true, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDeepSeekBody))
	if err != nil {
		return &AdapterError{Provider: a.Name(), Temporary: true, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &AdapterError{
			Provider: a.Name(),
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &AdapterError{Provider: a.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
