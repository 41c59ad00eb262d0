package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no API key configured")

// Provider names an API whose key specfit may need.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// envVar is the conventional environment variable of the provider.
func (p Provider) envVar() string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}

func (p Provider) configured(cfg *Config) string {
	if cfg == nil {
		return ""
	}
	switch p {
	case ProviderOpenAI:
		return cfg.OpenAI.APIKey
	default:
		return cfg.Anthropic.APIKey
	}
}

// GetAPIKey returns the provider's API key.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config, p Provider) (string, error) {
	if key := os.Getenv(p.envVar()); key != "" {
		return key, nil
	}
	if key := expandedKey(p.configured(cfg)); key != "" {
		return key, nil
	}
	return "", ErrNoAPIKey
}

// expandedKey expands env references and rejects ones left unresolved.
func expandedKey(raw string) string {
	if raw == "" {
		return ""
	}
	key := os.ExpandEnv(raw)
	if strings.HasPrefix(key, "${") {
		return ""
	}
	return key
}

// ValidateAPIKey performs basic validation on an API key.
// It checks format but does not call the provider.
func ValidateAPIKey(p Provider, key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	prefix := "sk-ant-"
	if p == ProviderOpenAI {
		prefix = "sk-"
	}
	if !strings.HasPrefix(key, prefix) {
		return errors.New("invalid API key format: expected '" + prefix + "' prefix")
	}

	// Keys should be reasonably long
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the provider's API key was sourced from.
func GetAPIKeySource(cfg *Config, p Provider) KeySource {
	if os.Getenv(p.envVar()) != "" {
		return KeySourceEnv
	}
	if expandedKey(p.configured(cfg)) != "" {
		return KeySourceConfig
	}
	return KeySourceNone
}
