package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/querygate/pkg/dataset"
)

// Settings is the non-secret configuration read from config.yaml.
type Settings struct {
	LLM          LLMConfig          `yaml:"llm"`
	Retry        RetryConfig        `yaml:"retry,omitempty"`
	Selection    SelectionConfig    `yaml:"selection,omitempty"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator,omitempty"`
	Structured   StructuredConfig   `yaml:"structured,omitempty"`
	Retrieval    RetrievalConfig    `yaml:"retrieval,omitempty"`
	Server       ServerConfig       `yaml:"server,omitempty"`
	Logging      LoggingConfig      `yaml:"logging,omitempty"`
	Telemetry    TelemetryConfig    `yaml:"telemetry,omitempty"`
	Profiles     ProfilesConfig     `yaml:"profiles,omitempty"`
}

// LLMConfig picks the adapters and models for generation and embedding.
type LLMConfig struct {
	Adapter           string `yaml:"adapter"`
	Model             string `yaml:"model"`
	ClassifierAdapter string `yaml:"classifier_adapter,omitempty"`
	ClassifierModel   string `yaml:"classifier_model,omitempty"`
	// Embedder is "genai" or "hash".
	Embedder       string `yaml:"embedder,omitempty"`
	EmbeddingModel string `yaml:"embedding_model,omitempty"`
	// Temperature is unset when nil; a negative value leaves it to the provider.
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
}

// RetryConfig defines retry and backoff behavior.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty"`
}

// SelectionConfig tunes automatic method selection.
type SelectionConfig struct {
	Triggers          map[string][]string `yaml:"triggers,omitempty"`
	Default           string              `yaml:"default,omitempty"`
	EnableTieBreaker  *bool               `yaml:"enable_llm_tie_breaker,omitempty"`
	TieBreakThreshold float64             `yaml:"tie_break_threshold,omitempty"`
	// TieBreakTimeoutMs bounds the classifier call made during selection.
	TieBreakTimeoutMs int `yaml:"tie_break_timeout_ms,omitempty"`
}

// OrchestratorConfig bounds backend attempts.
type OrchestratorConfig struct {
	AttemptTimeoutMs int `yaml:"attempt_timeout_ms,omitempty"`
}

// StructuredConfig bounds structured answers.
type StructuredConfig struct {
	MaxRows    int `yaml:"max_rows,omitempty"`
	MaxChars   int `yaml:"max_chars,omitempty"`
	MaxSources int `yaml:"max_sources,omitempty"`
}

// RetrievalConfig tunes the vector index and answer grading.
type RetrievalConfig struct {
	TopK            int     `yaml:"top_k,omitempty"`
	MinRelevance    float64 `yaml:"min_relevance,omitempty"`
	StrongRelevance float64 `yaml:"strong_relevance,omitempty"`
	ChunkSize       int     `yaml:"chunk_size,omitempty"`
	ChunkOverlap    int     `yaml:"chunk_overlap,omitempty"`
	StorePath       string  `yaml:"store_path,omitempty"`
	Workers         int     `yaml:"workers,omitempty"`
	BatchSize       int     `yaml:"batch_size,omitempty"`
	EmbedRPS        float64 `yaml:"embed_rps,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string   `yaml:"addr,omitempty"`
	RateLimit   float64  `yaml:"rate_limit,omitempty"`
	RateBurst   int      `yaml:"rate_burst,omitempty"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// TelemetryConfig turns on OpenTelemetry export for the HTTP server.
// Exporter is "stdout" or "otlp"; Endpoint is the OTLP/HTTP base URL.
type TelemetryConfig struct {
	Enabled    bool   `yaml:"enabled,omitempty"`
	Exporter   string `yaml:"exporter,omitempty"`
	Endpoint   string `yaml:"endpoint,omitempty"`
	IntervalMs int    `yaml:"interval_ms,omitempty"`
}

// ProfilesConfig lists dataset profiles. Files are resolved against the
// config file's directory.
type ProfilesConfig struct {
	Default string            `yaml:"default,omitempty"`
	Files   []string          `yaml:"files,omitempty"`
	Inline  []dataset.Profile `yaml:"inline,omitempty"`
}

// LoadSettings reads settings from a YAML file and applies defaults.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}

	applyDefaults(&s)
	return &s, nil
}

// DefaultSettings returns the settings used when no config file exists.
func DefaultSettings() *Settings {
	s := &Settings{
		LLM: LLMConfig{
			Adapter:        "google",
			Model:          "gemini-1.5-flash",
			Embedder:       "genai",
			EmbeddingModel: "gemini-embedding-001",
		},
	}
	applyDefaults(s)
	return s
}

// LoadProfiles returns the configured profiles. Without any, the bundled
// default profile is used.
func (s *Settings) LoadProfiles(baseDir string) ([]dataset.Profile, error) {
	var out []dataset.Profile
	for _, f := range s.Profiles.Files {
		path := f
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		p, err := dataset.LoadProfile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile %s: %w", f, err)
		}
		out = append(out, *p)
	}
	out = append(out, s.Profiles.Inline...)
	if len(out) == 0 {
		out = append(out, dataset.DefaultProfile())
	}
	return out, nil
}

// TieBreakerEnabled reports whether the LLM tie breaker is on.
func (s *Settings) TieBreakerEnabled() bool {
	return s.Selection.EnableTieBreaker != nil && *s.Selection.EnableTieBreaker
}

func applyDefaults(s *Settings) {
	if s == nil {
		return
	}
	if s.LLM.Adapter == "" {
		s.LLM.Adapter = "google"
	}
	if s.LLM.Model == "" {
		s.LLM.Model = "gemini-1.5-flash"
	}
	if s.LLM.ClassifierAdapter == "" {
		s.LLM.ClassifierAdapter = s.LLM.Adapter
	}
	if s.LLM.ClassifierModel == "" {
		s.LLM.ClassifierModel = s.LLM.Model
	}
	if s.LLM.Embedder == "" {
		s.LLM.Embedder = "genai"
	}
	if s.LLM.EmbeddingModel == "" {
		s.LLM.EmbeddingModel = "gemini-embedding-001"
	}
	if s.LLM.Temperature == nil {
		t := 0.2
		s.LLM.Temperature = &t
	}
	if s.LLM.MaxTokens == 0 {
		s.LLM.MaxTokens = 2048
	}

	if s.Retry.MaxRetries == 0 {
		s.Retry.MaxRetries = 2
	}
	if s.Retry.BaseBackoffMs == 0 {
		s.Retry.BaseBackoffMs = 200
	}
	if s.Retry.MaxBackoffMs == 0 {
		s.Retry.MaxBackoffMs = 2000
	}
	if s.Retry.MaxBackoffMs < s.Retry.BaseBackoffMs {
		s.Retry.MaxBackoffMs = s.Retry.BaseBackoffMs
	}

	if s.Selection.Default == "" {
		s.Selection.Default = "structured"
	}
	if s.Selection.TieBreakThreshold == 0 {
		s.Selection.TieBreakThreshold = 0.65
	}
	if s.Selection.EnableTieBreaker == nil {
		enabled := true
		s.Selection.EnableTieBreaker = &enabled
	}
	if s.Selection.TieBreakTimeoutMs <= 0 {
		s.Selection.TieBreakTimeoutMs = 10000
	}

	if s.Orchestrator.AttemptTimeoutMs == 0 {
		s.Orchestrator.AttemptTimeoutMs = 60000
	}

	if s.Structured.MaxRows == 0 {
		s.Structured.MaxRows = 50
	}
	if s.Structured.MaxChars == 0 {
		s.Structured.MaxChars = 6000
	}
	if s.Structured.MaxSources == 0 {
		s.Structured.MaxSources = 20
	}

	if s.Retrieval.TopK == 0 {
		s.Retrieval.TopK = 5
	}
	if s.Retrieval.MinRelevance == 0 {
		s.Retrieval.MinRelevance = 0.3
	}
	if s.Retrieval.StrongRelevance == 0 {
		s.Retrieval.StrongRelevance = 0.75
	}
	if s.Retrieval.ChunkSize == 0 {
		s.Retrieval.ChunkSize = 1000
	}
	if s.Retrieval.ChunkOverlap == 0 {
		s.Retrieval.ChunkOverlap = 200
	}
	if s.Retrieval.StorePath == "" {
		s.Retrieval.StorePath = "vectors.db"
	}
	if s.Retrieval.Workers == 0 {
		s.Retrieval.Workers = 4
	}
	if s.Retrieval.BatchSize == 0 {
		s.Retrieval.BatchSize = 64
	}

	if s.Server.Addr == "" {
		s.Server.Addr = ":7788"
	}
	if s.Server.RateLimit == 0 {
		s.Server.RateLimit = 10
	}
	if s.Server.RateBurst == 0 {
		s.Server.RateBurst = 20
	}
	if len(s.Server.CORSOrigins) == 0 {
		s.Server.CORSOrigins = []string{"*"}
	}

	if s.Logging.Level == "" {
		s.Logging.Level = "info"
	}
	if s.Logging.Format == "" {
		s.Logging.Format = "console"
	}

	if s.Telemetry.Exporter == "" {
		s.Telemetry.Exporter = "stdout"
	}
	if s.Telemetry.IntervalMs <= 0 {
		s.Telemetry.IntervalMs = 15000
	}
}
