package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/zen-systems/querygate/pkg/adapter"
	"github.com/zen-systems/querygate/pkg/backend"
	"github.com/zen-systems/querygate/pkg/config"
	"github.com/zen-systems/querygate/pkg/dataset"
	"github.com/zen-systems/querygate/pkg/logging"
	"github.com/zen-systems/querygate/pkg/orchestrator"
	"github.com/zen-systems/querygate/pkg/retrieval"
	"github.com/zen-systems/querygate/pkg/selector"
	"github.com/zen-systems/querygate/pkg/stats"
	"github.com/zen-systems/querygate/pkg/structured"
	"github.com/zen-systems/querygate/pkg/unify"
)

const instrumentationName = "github.com/zen-systems/querygate"

// app holds the wired components shared by every command.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	catalog    *dataset.Catalog
	registry   *adapter.Registry
	structured *structured.Engine
	retrieval  *retrieval.Engine
	store      *retrieval.Store
	engine     *orchestrator.Engine
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing vector store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// newApp loads configuration and builds both backends, the selector and the
// orchestrator.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	s := cfg.Settings
	if adapterFlag != "" {
		s.LLM.Adapter = adapterFlag
	}
	if modelFlag != "" {
		s.LLM.Model = aliases.Resolve(modelFlag)
	}

	logger, err := logging.New(logging.Options{
		Level:   s.Logging.Level,
		Format:  s.Logging.Format,
		Verbose: verboseFlag,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	profiles, err := s.LoadProfiles(cfg.ConfigDir)
	if err != nil {
		return nil, err
	}
	a.catalog, err = dataset.NewCatalog(s.Profiles.Default, profiles,
		dataset.WithBaseDir(cfg.ConfigDir),
		dataset.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	a.registry = adapter.NewRegistry(adapter.Keys{
		Anthropic: cfg.AnthropicAPIKey,
		OpenAI:    cfg.OpenAIAPIKey,
		Google:    cfg.GoogleAPIKey,
		DeepSeek:  cfg.DeepSeekAPIKey,
	}, adapter.Params{
		Temperature: *s.LLM.Temperature,
		MaxTokens:   s.LLM.MaxTokens,
	}, adapter.RetryPolicy{
		MaxRetries:    s.Retry.MaxRetries,
		BaseBackoffMs: s.Retry.BaseBackoffMs,
		MaxBackoffMs:  s.Retry.MaxBackoffMs,
	}, logger)

	model, err := a.registry.Model(s.LLM.Adapter, s.LLM.Model)
	if err != nil {
		return nil, fmt.Errorf("generation model %s/%s: %w (set the provider's API key or pass --adapter mock)",
			s.LLM.Adapter, s.LLM.Model, err)
	}

	synth := structured.NewLLMSynthesizer(model, structured.WithSynthLogger(logger))
	formatter := structured.NewFormatter(model, logger).
		WithLimits(s.Structured.MaxRows, s.Structured.MaxChars, s.Structured.MaxSources)
	a.structured = structured.NewEngine(a.catalog, synth, formatter, logger)

	embedder, err := a.embedder(ctx)
	if err != nil {
		return nil, err
	}
	a.store, err = retrieval.OpenStore(cfg.StorePath())
	if err != nil {
		return nil, err
	}
	index := retrieval.NewIndex(a.store, embedder,
		retrieval.WithSplitter(retrieval.NewSplitter(s.Retrieval.ChunkSize, s.Retrieval.ChunkOverlap)),
		retrieval.WithWorkers(s.Retrieval.Workers),
		retrieval.WithBatchSize(s.Retrieval.BatchSize),
		retrieval.WithEmbedRate(s.Retrieval.EmbedRPS, s.Retrieval.Workers),
		retrieval.WithIndexLogger(logger),
	)
	a.retrieval = retrieval.NewEngine(a.catalog, index, model,
		retrieval.WithTopK(s.Retrieval.TopK),
		retrieval.WithMinRelevance(s.Retrieval.MinRelevance),
		retrieval.WithLogger(logger),
	)

	recorder, err := stats.NewRecorder(stats.WithMeter(otel.Meter(instrumentationName)))
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(s.Orchestrator.AttemptTimeoutMs) * time.Millisecond
	guards := []backend.Adapter{
		backend.NewGuard(backend.Structured, a.structured, recorder,
			backend.WithTimeout(timeout), backend.WithLogger(logger)),
		backend.NewGuard(backend.Retrieval, a.retrieval, recorder,
			backend.WithTimeout(timeout), backend.WithLogger(logger)),
	}

	a.engine, err = orchestrator.New(a.selector(logger), guards,
		unify.New(unify.Policy{StrongRelevance: s.Retrieval.StrongRelevance}, nil),
		recorder,
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(otel.Tracer(instrumentationName)),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) embedder(ctx context.Context) (retrieval.Embedder, error) {
	s := a.cfg.Settings
	if s.LLM.Embedder != "genai" {
		return retrieval.NewHashEmbedder(0), nil
	}
	if a.cfg.GoogleAPIKey == "" {
		a.logger.Warn("GOOGLE_API_KEY not set, using the local hash embedder")
		return retrieval.NewHashEmbedder(0), nil
	}
	client, err := adapter.NewGenAIClient(ctx, a.cfg.GoogleAPIKey)
	if err != nil {
		return nil, err
	}
	return retrieval.NewGenAIEmbedder(client, s.LLM.EmbeddingModel)
}

func (a *app) selector(logger *zap.Logger) *selector.Selector {
	s := a.cfg.Settings
	fallback := backend.Structured
	if m, err := backend.ParseMethod(s.Selection.Default); err == nil {
		if id, ok := m.Forced(); ok {
			fallback = id
		}
	}

	var strategy selector.Strategy = selector.NewHeuristicStrategy(vocabulary(s), fallback)
	if s.TieBreakerEnabled() {
		classifier, err := a.registry.Model(s.LLM.ClassifierAdapter, s.LLM.ClassifierModel)
		if err != nil {
			logger.Warn("tie breaker disabled", zap.Error(err))
		} else {
			strategy = selector.NewTieBreaker(strategy, classifier, s.Selection.TieBreakThreshold,
				selector.WithTieBreakTimeout(time.Duration(s.Selection.TieBreakTimeoutMs)*time.Millisecond))
		}
	}
	return selector.New(strategy, selector.WithFallback(fallback), selector.WithLogger(logger))
}

// vocabulary converts configured triggers, falling back to the built-in
// vocabulary for any backend with none.
func vocabulary(s *config.Settings) selector.Vocabulary {
	vocab := selector.DefaultVocabulary()
	for name, triggers := range s.Selection.Triggers {
		m, err := backend.ParseMethod(name)
		if err != nil {
			continue
		}
		if id, ok := m.Forced(); ok && len(triggers) > 0 {
			vocab[id] = triggers
		}
	}
	return vocab
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	aliases = loadAliases(os.Stderr)
	aliases.Apply(cfg.Settings)

	return cfg, nil
}

// loadAliases reads models.yaml, falling back to the built-in aliases when
// no file is found or the file does not parse. Parse problems are reported to w.
func loadAliases(w io.Writer) *config.ModelAliases {
	loaded, err := config.LoadAliasesWithFallback("configs/models.yaml")
	if err != nil {
		fmt.Fprintf(w, "Warning: ignoring model aliases: %v\n", err)
	}
	if loaded == nil || len(loaded.Aliases) == 0 {
		return config.DefaultAliases()
	}
	return loaded
}

// failureResponse extracts the failure payload from an ask error.
func failureResponse(err error) (*unify.Response, bool) {
	var failed *orchestrator.AllBackendsFailedError
	if errors.As(err, &failed) && failed.Response != nil {
		return failed.Response, true
	}
	return nil, false
}
