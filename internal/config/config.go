// Package config loads specfit configuration from XDG paths, project-level
// overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ProjectFileName is the project-level override file, searched upward from
// the working directory.
const ProjectFileName = ".specfit.yaml"

// Config holds all configuration for specfit.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Matcher   MatcherConfig   `mapstructure:"matcher"`
	Repair    RepairConfig    `mapstructure:"repair"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Patterns  PatternsConfig  `mapstructure:"patterns"`
	Log       LogConfig       `mapstructure:"log"`
	// RulesFile optionally overrides the built-in heuristic tables.
	RulesFile string `mapstructure:"rules_file"`
}

// AnthropicConfig holds Anthropic API settings for the arbiter and the
// patch generator.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url" validate:"omitempty,url"`
	MaxRetries int    `mapstructure:"max_retries" validate:"gte=0"`
	MaxTokens  int64  `mapstructure:"max_tokens" validate:"gte=0"`
	Bedrock    bool   `mapstructure:"bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// OpenAIConfig holds OpenAI API settings for embeddings.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
}

// EmbeddingConfig holds embedding backend settings.
type EmbeddingConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	Model             string  `mapstructure:"model"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	BatchSize         int     `mapstructure:"batch_size" validate:"gte=0"`
	// CachePath is the badger directory for cached vectors. Empty keeps the
	// cache in memory.
	CachePath string `mapstructure:"cache_path"`
}

// MatcherConfig holds tiered matcher thresholds.
type MatcherConfig struct {
	High        float64       `mapstructure:"high" validate:"gte=0,lte=1,gtefield=Low"`
	Low         float64       `mapstructure:"low" validate:"gte=0,lte=1"`
	Heuristic   float64       `mapstructure:"heuristic" validate:"gte=0,lte=1"`
	Lexical     float64       `mapstructure:"lexical" validate:"gte=0,lte=1"`
	Arbiter     bool          `mapstructure:"arbiter"`
	ArbiterCap  int           `mapstructure:"arbiter_cap" validate:"gte=0"`
	Concurrency int           `mapstructure:"concurrency" validate:"gte=0"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// RepairConfig holds repair loop settings.
type RepairConfig struct {
	Target          float64       `mapstructure:"target" validate:"gt=0,lte=1"`
	MaxIterations   int           `mapstructure:"max_iterations" validate:"gte=1"`
	StagnationLimit int           `mapstructure:"stagnation_limit" validate:"gte=1"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout" validate:"gte=0"`
	SendFiles       bool          `mapstructure:"send_files"`
	// Generator selects the patch source: "anthropic" or "command".
	Generator string `mapstructure:"generator" validate:"oneof=anthropic command"`
	// GeneratorCommand is run through the shell when Generator is
	// "command". It receives the failure context as JSON on stdin and
	// prints the patch.
	GeneratorCommand string `mapstructure:"generator_command" validate:"required_if=Generator command"`
}

// ExtractConfig holds fact extraction settings.
type ExtractConfig struct {
	Strategy       string        `mapstructure:"strategy" validate:"oneof=static dynamic"`
	Include        []string      `mapstructure:"include"`
	Exclude        []string      `mapstructure:"exclude"`
	OpenAPIPath    string        `mapstructure:"openapi_path" validate:"startswith=/"`
	ServiceCommand string        `mapstructure:"service_command"`
	ServiceURL     string        `mapstructure:"service_url" validate:"omitempty,url"`
	ReadyTimeout   time.Duration `mapstructure:"ready_timeout" validate:"gte=0"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout" validate:"gte=0"`
}

// PatternsConfig holds pattern store settings.
type PatternsConfig struct {
	// Scope is "project" (.specfit/patterns.db under the artifact) or
	// "global" (XDG data directory).
	Scope string `mapstructure:"scope" validate:"oneof=project global"`
	// Path overrides the database location.
	Path string `mapstructure:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

var validate = validator.New()

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (SPECFIT_*, ANTHROPIC_API_KEY, OPENAI_API_KEY)
// 2. Project config (.specfit.yaml in the current directory or a parent)
// 3. User config (~/.config/specfit/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}
	return LoadFrom(cwd)
}

// LoadFrom is Load with the project config searched upward from dir.
func LoadFrom(dir string) (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(dir); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file over the defaults.
// Environment overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SPECFIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "SPECFIT_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("openai.api_key", "SPECFIT_OPENAI_API_KEY", "OPENAI_API_KEY")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.OpenAI.APIKey = expandEnv(cfg.OpenAI.APIKey)
	cfg.RulesFile = expandEnv(cfg.RulesFile)
	cfg.Patterns.Path = expandEnv(cfg.Patterns.Path)
	cfg.Embedding.CachePath = expandEnv(cfg.Embedding.CachePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the user config file. API keys are
// written as given, so callers usually keep them as ${VAR} references.
func Save(cfg *Config) error {
	return SaveTo(cfg, GetUserConfigPath())
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	for key, value := range settings(cfg) {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// settings flattens cfg into dot-notation keys. Durations are written as
// strings.
func settings(cfg *Config) map[string]any {
	return map[string]any{
		"anthropic.api_key":             cfg.Anthropic.APIKey,
		"anthropic.model":               cfg.Anthropic.Model,
		"anthropic.base_url":            cfg.Anthropic.BaseURL,
		"anthropic.max_retries":         cfg.Anthropic.MaxRetries,
		"anthropic.max_tokens":          cfg.Anthropic.MaxTokens,
		"anthropic.bedrock":             cfg.Anthropic.Bedrock,
		"anthropic.aws_region":          cfg.Anthropic.AWSRegion,
		"anthropic.aws_profile":         cfg.Anthropic.AWSProfile,
		"openai.api_key":                cfg.OpenAI.APIKey,
		"openai.base_url":               cfg.OpenAI.BaseURL,
		"embedding.enabled":             cfg.Embedding.Enabled,
		"embedding.model":               cfg.Embedding.Model,
		"embedding.requests_per_second": cfg.Embedding.RequestsPerSecond,
		"embedding.batch_size":          cfg.Embedding.BatchSize,
		"embedding.cache_path":          cfg.Embedding.CachePath,
		"matcher.high":                  cfg.Matcher.High,
		"matcher.low":                   cfg.Matcher.Low,
		"matcher.heuristic":             cfg.Matcher.Heuristic,
		"matcher.lexical":               cfg.Matcher.Lexical,
		"matcher.arbiter":               cfg.Matcher.Arbiter,
		"matcher.arbiter_cap":           cfg.Matcher.ArbiterCap,
		"matcher.concurrency":           cfg.Matcher.Concurrency,
		"matcher.timeout":               cfg.Matcher.Timeout.String(),
		"repair.target":                 cfg.Repair.Target,
		"repair.max_iterations":         cfg.Repair.MaxIterations,
		"repair.stagnation_limit":       cfg.Repair.StagnationLimit,
		"repair.generate_timeout":       cfg.Repair.GenerateTimeout.String(),
		"repair.send_files":             cfg.Repair.SendFiles,
		"repair.generator":              cfg.Repair.Generator,
		"repair.generator_command":      cfg.Repair.GeneratorCommand,
		"extract.strategy":              cfg.Extract.Strategy,
		"extract.include":               cfg.Extract.Include,
		"extract.exclude":               cfg.Extract.Exclude,
		"extract.openapi_path":          cfg.Extract.OpenAPIPath,
		"extract.service_command":       cfg.Extract.ServiceCommand,
		"extract.service_url":           cfg.Extract.ServiceURL,
		"extract.ready_timeout":         cfg.Extract.ReadyTimeout.String(),
		"extract.fetch_timeout":         cfg.Extract.FetchTimeout.String(),
		"patterns.scope":                cfg.Patterns.Scope,
		"patterns.path":                 cfg.Patterns.Path,
		"log.level":                     cfg.Log.Level,
		"log.format":                    cfg.Log.Format,
		"rules_file":                    cfg.RulesFile,
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findProjectConfig(cwd)
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()
	for key, value := range settings(d) {
		v.SetDefault(key, value)
	}
}

// getUserConfigDir returns the XDG config directory for specfit.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "specfit")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "specfit")
	}
	return filepath.Join(home, ".config", "specfit")
}

// findProjectConfig searches for .specfit.yaml in dir and its parents.
func findProjectConfig(dir string) string {
	if dir == "" {
		return ""
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(dir, ProjectFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:      "claude-sonnet-4-20250514",
			MaxRetries: 2,
			MaxTokens:  8192,
		},
		Embedding: EmbeddingConfig{
			Model:             "text-embedding-3-small",
			RequestsPerSecond: 5,
			BatchSize:         64,
		},
		Matcher: MatcherConfig{
			High:        0.80,
			Low:         0.50,
			Heuristic:   0.65,
			Lexical:     0.30,
			Arbiter:     true,
			ArbiterCap:  50,
			Concurrency: 8,
			Timeout:     30 * time.Second,
		},
		Repair: RepairConfig{
			Target:          0.80,
			MaxIterations:   3,
			StagnationLimit: 2,
			GenerateTimeout: 5 * time.Minute,
			SendFiles:       true,
			Generator:       "anthropic",
		},
		Extract: ExtractConfig{
			Strategy:     "static",
			Include:      []string{"**/*.py"},
			OpenAPIPath:  "/openapi.json",
			ReadyTimeout: 30 * time.Second,
			FetchTimeout: 10 * time.Second,
		},
		Patterns: PatternsConfig{
			Scope: "project",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
