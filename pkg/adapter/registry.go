package adapter

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Keys carries provider credentials.
type Keys struct {
	Anthropic string
	OpenAI    string
	Google    string
	DeepSeek  string
}

// Registry holds the adapters that could be constructed from the available keys.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds every adapter whose key is present, wraps it with the
// retry policy, and always registers the mock adapter.
func NewRegistry(keys Keys, params Params, policy RetryPolicy, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{adapters: make(map[string]Adapter)}

	add := func(a Adapter, err error) {
		if err != nil {
			logger.Warn("adapter unavailable", zap.Error(err))
			return
		}
		r.adapters[a.Name()] = WithRetry(a, policy, logger)
	}

	if keys.Anthropic != "" {
		a, err := NewAnthropicAdapter(keys.Anthropic, params)
		add(a, err)
	}
	if keys.OpenAI != "" {
		a, err := NewOpenAIAdapter(keys.OpenAI, params)
		add(a, err)
	}
	if keys.Google != "" {
		a, err := NewGoogleAdapter(keys.Google, params)
		add(a, err)
	}
	if keys.DeepSeek != "" {
		a, err := NewDeepSeekAdapter(keys.DeepSeek, params)
		add(a, err)
	}
	r.adapters["mock"] = NewMockAdapter()
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter with the given name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("adapter %s not found (is its API key set?)", name)
	}
	return a, nil
}

// Model resolves an adapter name and model id into a pinned model.
func (r *Registry) Model(adapterName, model string) (Model, error) {
	a, err := r.Get(adapterName)
	if err != nil {
		return Model{}, err
	}
	return Model{Adapter: a, ID: model}, nil
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
