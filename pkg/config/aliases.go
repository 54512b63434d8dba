package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Embedders lists the accepted llm.embedder values.
var Embedders = []string{"genai", "hash"}

// ModelAliases maps short names to canonical models and lists the models
// each provider serves.
type ModelAliases struct {
	Aliases   map[string]string   `yaml:"aliases"`
	Providers map[string][]string `yaml:"providers"`
}

// LoadAliases reads model aliases from a YAML file.
func LoadAliases(path string) (*ModelAliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var aliases ModelAliases
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if aliases.Aliases == nil {
		aliases.Aliases = make(map[string]string)
	}
	if aliases.Providers == nil {
		aliases.Providers = make(map[string][]string)
	}
	return &aliases, nil
}

// LoadAliasesWithFallback reads models.yaml from the config directory
// ($QUERYGATE_HOME or ~/.querygate), then from defaultPath. With neither
// present it returns an empty set.
func LoadAliasesWithFallback(defaultPath string) (*ModelAliases, error) {
	var candidates []string
	if dir, err := getConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "models.yaml"))
	}
	if defaultPath != "" {
		candidates = append(candidates, defaultPath)
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return LoadAliases(path)
		}
	}
	return &ModelAliases{
		Aliases:   make(map[string]string),
		Providers: make(map[string][]string),
	}, nil
}

// Resolve returns the canonical model for an alias, or the input unchanged.
// Surrounding whitespace is ignored.
func (a *ModelAliases) Resolve(modelOrAlias string) string {
	name := strings.TrimSpace(modelOrAlias)
	if a == nil {
		return name
	}
	if canonical, ok := a.Aliases[name]; ok {
		return canonical
	}
	return name
}

// IsAlias reports whether name is a known alias.
func (a *ModelAliases) IsAlias(name string) bool {
	if a == nil {
		return false
	}
	_, ok := a.Aliases[name]
	return ok
}

// ValidateModel checks that model is served by adapter. Without provider
// lists nothing can be checked.
func (a *ModelAliases) ValidateModel(adapter, model string) error {
	if a == nil || len(a.Providers) == 0 {
		return nil
	}
	models, ok := a.Providers[adapter]
	if !ok {
		return fmt.Errorf("unknown adapter %q", adapter)
	}
	if !slices.Contains(models, model) {
		return fmt.Errorf("model %q not in %s provider list", model, adapter)
	}
	return nil
}

// ListAliases returns a copy of the aliases map.
func (a *ModelAliases) ListAliases() map[string]string {
	if a == nil || a.Aliases == nil {
		return make(map[string]string)
	}
	return maps.Clone(a.Aliases)
}

// ListProviders returns the provider names, sorted.
func (a *ModelAliases) ListProviders() []string {
	if a == nil || a.Providers == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(a.Providers))
}

// GetProviderModels returns the models served by provider.
func (a *ModelAliases) GetProviderModels(provider string) []string {
	if a == nil {
		return nil
	}
	return a.Providers[provider]
}

// GetProviderForModel returns the first provider, in name order, serving model.
func (a *ModelAliases) GetProviderForModel(model string) string {
	for _, provider := range a.ListProviders() {
		if slices.Contains(a.Providers[provider], model) {
			return provider
		}
	}
	return ""
}

// ValidateSettings checks the generation and classifier models against the
// provider lists, after alias resolution, and the embedder choice. The mock
// adapter is not checked.
func (a *ModelAliases) ValidateSettings(s *Settings) []error {
	if s == nil {
		return nil
	}

	var errs []error
	check := func(role, adapter, model string) {
		if adapter == "mock" {
			return
		}
		if err := a.ValidateModel(adapter, a.Resolve(model)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", role, err))
		}
	}
	check("llm", s.LLM.Adapter, s.LLM.Model)
	if s.TieBreakerEnabled() {
		check("classifier", s.LLM.ClassifierAdapter, s.LLM.ClassifierModel)
	}
	if !slices.Contains(Embedders, s.LLM.Embedder) {
		errs = append(errs, fmt.Errorf("embedder: unknown embedder %q (want one of %s)",
			s.LLM.Embedder, strings.Join(Embedders, ", ")))
	}
	return errs
}

// Apply resolves aliases in the settings' model names in place.
func (a *ModelAliases) Apply(s *Settings) {
	if s == nil {
		return
	}
	s.LLM.Model = a.Resolve(s.LLM.Model)
	s.LLM.ClassifierModel = a.Resolve(s.LLM.ClassifierModel)
}

// DefaultAliases returns the built-in aliases and provider model lists.
func DefaultAliases() *ModelAliases {
	return &ModelAliases{
		Aliases: map[string]string{
			"fast":     "gemini-1.5-flash",
			"flash":    "gemini-2.0-flash",
			"quality":  "gemini-2.5-pro",
			"claude":   "claude-sonnet-4-20250514",
			"deep":     "claude-opus-4-20250514",
			"gpt":      "gpt-4.1",
			"gpt-mini": "gpt-4.1-mini",
			"cheap":    "deepseek-chat",
			"reason":   "deepseek-reasoner",
		},
		Providers: map[string][]string{
			"google":    {"gemini-1.5-flash", "gemini-2.0-flash", "gemini-2.5-pro"},
			"anthropic": {"claude-sonnet-4-20250514", "claude-opus-4-20250514"},
			"openai":    {"gpt-4.1", "gpt-4.1-mini", "gpt-4o-mini"},
			"deepseek":  {"deepseek-chat", "deepseek-reasoner"},
		},
	}
}
