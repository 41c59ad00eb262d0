package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/specfit/internal/api"
	"github.com/ShayCichocki/specfit/internal/artifact"
	"github.com/ShayCichocki/specfit/internal/config"
	"github.com/ShayCichocki/specfit/internal/embed"
	"github.com/ShayCichocki/specfit/internal/extract"
	"github.com/ShayCichocki/specfit/internal/learning"
	"github.com/ShayCichocki/specfit/internal/match"
	"github.com/ShayCichocki/specfit/internal/metrics"
	"github.com/ShayCichocki/specfit/internal/repair"
	"github.com/ShayCichocki/specfit/internal/rules"
	"github.com/ShayCichocki/specfit/internal/score"
)

var (
	_ repair.Generator    = (*api.Generator)(nil)
	_ repair.Generator    = (*commandGenerator)(nil)
	_ repair.PatternStore = (*learning.Store)(nil)
	_ repair.Workspace    = (*artifact.Workspace)(nil)
	_ match.Arbiter       = (*api.Arbiter)(nil)
	_ match.Embedder      = (*embed.Cached)(nil)
)

// engine bundles the collaborators every scoring command needs.
type engine struct {
	tables    *rules.Tables
	matcher   *match.Matcher
	scorer    *score.Scorer
	extractor extract.Extractor
	cache     *embed.Cached
}

// extractOverrides are per-invocation flag values layered over config.
type extractOverrides struct {
	strategy string
	baseURL  string
}

// newEngine wires tables, matcher, extractor, and scorer from config.
// Missing API keys disable the backends that need them rather than fail.
func newEngine(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger, ov extractOverrides) (*engine, error) {
	tables := rules.Default()
	if cfg.RulesFile != "" {
		t, err := rules.Load(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		tables = t
	}

	e := &engine{tables: tables}
	opts := []match.Option{
		match.WithTables(tables),
		match.WithThresholds(match.Thresholds{
			High:      cfg.Matcher.High,
			Low:       cfg.Matcher.Low,
			Heuristic: cfg.Matcher.Heuristic,
			Lexical:   cfg.Matcher.Lexical,
		}),
		match.WithTimeout(cfg.Matcher.Timeout),
		match.WithConcurrency(cfg.Matcher.Concurrency),
		match.WithArbiterCap(cfg.Matcher.ArbiterCap),
		match.WithLogger(logger),
		match.WithFallbackHook(m.Fallback),
	}

	if cfg.Embedding.Enabled {
		embedder, err := newEmbedder(cfg, logger)
		if err != nil {
			logger.Warn("embeddings disabled", "error", err)
		} else {
			e.cache = embedder
			opts = append(opts, match.WithEmbedder(embedder))
		}
	}
	if cfg.Matcher.Arbiter {
		client, err := newAnthropicClient(cfg)
		if err != nil {
			logger.Debug("arbiter disabled", "error", err)
		} else {
			opts = append(opts, match.WithArbiter(api.NewArbiter(client)))
		}
	}
	e.matcher = match.New(opts...)

	strategy := cfg.Extract.Strategy
	if ov.strategy != "" {
		strategy = ov.strategy
	} else if ov.baseURL != "" {
		strategy = string(extract.StrategyDynamic)
	}
	ex, err := extract.New(extract.Config{
		Strategy:       extract.Strategy(strategy),
		Include:        cfg.Extract.Include,
		Exclude:        cfg.Extract.Exclude,
		OpenAPIPath:    cfg.Extract.OpenAPIPath,
		ServiceCommand: cfg.Extract.ServiceCommand,
		ServiceURL:     cfg.Extract.ServiceURL,
		ReadyTimeout:   cfg.Extract.ReadyTimeout,
		FetchTimeout:   cfg.Extract.FetchTimeout,
		Tables:         tables,
		Logger:         logger,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.extractor = ex

	e.scorer = score.New(
		score.WithTables(tables),
		score.WithMatcher(e.matcher),
		score.WithMetrics(m),
		score.WithLogger(logger),
	)
	return e, nil
}

// Close releases the embedding cache.
func (e *engine) Close() error {
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}

func newEmbedder(cfg *config.Config, logger *slog.Logger) (*embed.Cached, error) {
	key, err := config.GetAPIKey(cfg, config.ProviderOpenAI)
	if err != nil {
		return nil, err
	}
	inner, err := embed.NewOpenAI(embed.OpenAIConfig{
		APIKey:            key,
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.Embedding.Model,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		BatchSize:         cfg.Embedding.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	return embed.OpenCache(embed.CacheConfig{
		Path:     cfg.Embedding.CachePath,
		InMemory: cfg.Embedding.CachePath == "",
		Logger:   logger,
	}, inner, inner.Model())
}

// newAnthropicClient creates a client for the arbiter and generator.
func newAnthropicClient(cfg *config.Config) (*api.Client, error) {
	cc := api.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		BaseURL:       cfg.Anthropic.BaseURL,
		MaxRetries:    cfg.Anthropic.MaxRetries,
		UseAWSBedrock: cfg.Anthropic.Bedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	}
	if !cc.UseAWSBedrock {
		key, err := config.GetAPIKey(cfg, config.ProviderAnthropic)
		if err != nil {
			return nil, err
		}
		cc.APIKey = key
	}
	client, err := api.NewClient(cc)
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	return client, nil
}

// newGenerator selects the patch source. A command set on the flag wins
// over config.
func newGenerator(cfg *config.Config, command, root string) (repair.Generator, error) {
	if command == "" && cfg.Repair.Generator == "command" {
		command = cfg.Repair.GeneratorCommand
	}
	if command != "" {
		return newCommandGenerator(command, root), nil
	}
	client, err := newAnthropicClient(cfg)
	if err != nil {
		if errors.Is(err, config.ErrNoAPIKey) {
			return nil, errors.New("no patch generator: set ANTHROPIC_API_KEY or pass --generator-cmd")
		}
		return nil, err
	}
	return api.NewGenerator(client, cfg.Anthropic.MaxTokens), nil
}

// patternDBPath resolves where patterns are stored for an artifact root.
func patternDBPath(cfg *config.Config, root string) string {
	switch {
	case cfg.Patterns.Path != "":
		return cfg.Patterns.Path
	case cfg.Patterns.Scope == "global":
		return learning.GlobalDBPath()
	default:
		return learning.ProjectDBPath(root)
	}
}

// artifactRoot returns the absolute artifact root, checking it exists.
func artifactRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("artifact root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("artifact root %s is not a directory", abs)
	}
	return abs, nil
}
