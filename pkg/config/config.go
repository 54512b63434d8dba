package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	Settings        *Settings
	ConfigDir       string
}

// Load reads ~/.querygate/config.yaml when present. API keys come only from
// the environment; keys written in the file are ignored.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	settingsPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(settingsPath); err != nil {
		return fromEnv(configDir, DefaultSettings()), nil
	}
	settings, err := LoadSettings(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return fromEnv(configDir, settings), nil
}

// LoadFile loads config with a specific settings file. Relative profile
// files resolve against that file's directory.
func LoadFile(path string) (*Config, error) {
	settings, err := LoadSettings(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return fromEnv(filepath.Dir(path), settings), nil
}

func fromEnv(configDir string, settings *Settings) *Config {
	return &Config{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		GoogleAPIKey:    os.Getenv("GOOGLE_API_KEY"),
		DeepSeekAPIKey:  os.Getenv("DEEPSEEK_API_KEY"),
		Settings:        settings,
		ConfigDir:       configDir,
	}
}

// HasAdapter returns true if the API key for the given adapter is configured.
// The mock adapter needs no key.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "mock":
		return true
	default:
		return false
	}
}

// StorePath resolves the vector store path against the config directory.
func (c *Config) StorePath() string {
	p := c.Settings.Retrieval.StorePath
	if p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ConfigDir, p)
}

func getConfigDir() (string, error) {
	if dir := os.Getenv("QUERYGATE_HOME"); dir != "" {
		return dir, os.MkdirAll(dir, 0755)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".querygate")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
