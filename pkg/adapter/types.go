package adapter

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a provider's text output plus optional usage data.
type Response struct {
	Content string `json:"content"`
	Adapter string `json:"adapter"`
	Model   string `json:"model"`
	Usage   *Usage `json:"usage,omitempty"`
	Retries int    `json:"retries,omitempty"`
}

// Default generation parameters. Query synthesis and grounded answers want
// low variance.
const (
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 2048
)

// Params tunes generation for every call an adapter makes.
type Params struct {
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
}

// DefaultParams returns the default generation parameters.
func DefaultParams() Params {
	return Params{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
}

// normalized fills unset fields. A negative temperature means provider default.
func (p Params) normalized() Params {
	if p.MaxTokens <= 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	return p
}
