package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points the user config at an empty directory and clears key
// variables so the host environment cannot leak into a test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Repair.Target != 0.80 {
		t.Errorf("expected default target 0.80, got %v", cfg.Repair.Target)
	}
	if cfg.Repair.MaxIterations != 3 {
		t.Errorf("expected default max iterations 3, got %d", cfg.Repair.MaxIterations)
	}
	if cfg.Repair.StagnationLimit != 2 {
		t.Errorf("expected default stagnation limit 2, got %d", cfg.Repair.StagnationLimit)
	}
	if cfg.Repair.GenerateTimeout != 5*time.Minute {
		t.Errorf("expected generate timeout 5m, got %v", cfg.Repair.GenerateTimeout)
	}
	if cfg.Matcher.High != 0.80 || cfg.Matcher.Low != 0.50 {
		t.Errorf("expected thresholds 0.80/0.50, got %v/%v", cfg.Matcher.High, cfg.Matcher.Low)
	}
	if cfg.Extract.Strategy != "static" {
		t.Errorf("expected static strategy, got %q", cfg.Extract.Strategy)
	}
	if cfg.Extract.OpenAPIPath != "/openapi.json" {
		t.Errorf("expected /openapi.json, got %q", cfg.Extract.OpenAPIPath)
	}
	if cfg.Patterns.Scope != "project" {
		t.Errorf("expected project scope, got %q", cfg.Patterns.Scope)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	isolate(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	writeFile(t, configPath, `
anthropic:
  api_key: test-key
  model: claude-haiku-4-5
matcher:
  high: 0.9
  timeout: 5s
repair:
  target: 0.95
  max_iterations: 5
  generate_timeout: 90s
extract:
  strategy: dynamic
  include:
    - "app/**/*.py"
log:
  format: json
`)

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.Anthropic.APIKey)
	}
	if cfg.Anthropic.Model != "claude-haiku-4-5" {
		t.Errorf("expected model override, got %q", cfg.Anthropic.Model)
	}
	if cfg.Matcher.High != 0.9 {
		t.Errorf("expected high 0.9, got %v", cfg.Matcher.High)
	}
	if cfg.Matcher.Low != 0.5 {
		t.Errorf("expected default low 0.5 to survive, got %v", cfg.Matcher.Low)
	}
	if cfg.Matcher.Timeout != 5*time.Second {
		t.Errorf("expected matcher timeout 5s, got %v", cfg.Matcher.Timeout)
	}
	if cfg.Repair.Target != 0.95 {
		t.Errorf("expected target 0.95, got %v", cfg.Repair.Target)
	}
	if cfg.Repair.GenerateTimeout != 90*time.Second {
		t.Errorf("expected generate timeout 90s, got %v", cfg.Repair.GenerateTimeout)
	}
	if cfg.Repair.StagnationLimit != 2 {
		t.Errorf("expected default stagnation limit, got %d", cfg.Repair.StagnationLimit)
	}
	if cfg.Extract.Strategy != "dynamic" {
		t.Errorf("expected dynamic strategy, got %q", cfg.Extract.Strategy)
	}
	if len(cfg.Extract.Include) != 1 || cfg.Extract.Include[0] != "app/**/*.py" {
		t.Errorf("expected include override, got %v", cfg.Extract.Include)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json log format, got %q", cfg.Log.Format)
	}
}

func TestLoadFromPathRejectsInvalid(t *testing.T) {
	isolate(t)

	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"unknown log level", "log:\n  level: verbose\n", "Level"},
		{"target above one", "repair:\n  target: 1.5\n", "Target"},
		{"inverted thresholds", "matcher:\n  high: 0.4\n  low: 0.6\n", "High"},
		{"command generator without command", "repair:\n  generator: command\n", "GeneratorCommand"},
		{"unknown strategy", "extract:\n  strategy: magic\n", "Strategy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, tt.content)

			_, err := LoadFromPath(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error naming %s, got %v", tt.field, err)
			}
		})
	}
}

func TestLoadFromProjectOverride(t *testing.T) {
	userDir := isolate(t)
	writeFile(t, filepath.Join(userDir, "specfit", "config.yaml"), `
repair:
  target: 0.85
  max_iterations: 4
log:
  level: debug
`)

	project := t.TempDir()
	writeFile(t, filepath.Join(project, ProjectFileName), `
repair:
  target: 0.9
`)
	nested := filepath.Join(project, "svc", "app")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg, err := LoadFrom(nested)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Repair.Target != 0.9 {
		t.Errorf("expected project target 0.9, got %v", cfg.Repair.Target)
	}
	if cfg.Repair.MaxIterations != 4 {
		t.Errorf("expected user max iterations 4, got %d", cfg.Repair.MaxIterations)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected user log level debug, got %q", cfg.Log.Level)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("SPECFIT_REPAIR_MAX_ITERATIONS", "7")
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Repair.MaxIterations != 7 {
		t.Errorf("expected max iterations 7 from env, got %d", cfg.Repair.MaxIterations)
	}
	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("expected openai key from env, got %q", cfg.OpenAI.APIKey)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Anthropic.APIKey = "${ANTHROPIC_API_KEY}"
	cfg.Repair.Target = 0.9
	cfg.Repair.GenerateTimeout = 2 * time.Minute
	cfg.Extract.Exclude = []string{"**/migrations/**"}
	cfg.RulesFile = "rules.yaml"

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.Repair.Target != 0.9 {
		t.Errorf("expected target 0.9, got %v", loaded.Repair.Target)
	}
	if loaded.Repair.GenerateTimeout != 2*time.Minute {
		t.Errorf("expected generate timeout 2m, got %v", loaded.Repair.GenerateTimeout)
	}
	if len(loaded.Extract.Exclude) != 1 || loaded.Extract.Exclude[0] != "**/migrations/**" {
		t.Errorf("expected exclude to round-trip, got %v", loaded.Extract.Exclude)
	}
	if loaded.RulesFile != "rules.yaml" {
		t.Errorf("expected rules file, got %q", loaded.RulesFile)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "xml"
	if err := SaveTo(cfg, filepath.Join(t.TempDir(), "config.yaml")); err == nil {
		t.Error("expected invalid config to be rejected")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded-value")

	result := expandEnv("${TEST_VAR}")
	if result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}

	result = expandEnv("prefix-${TEST_VAR}-suffix")
	if result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	dir := getUserConfigDir()
	expected := "/custom/config/specfit"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}

func TestFindProjectConfigMissing(t *testing.T) {
	if got := findProjectConfig(""); got != "" {
		t.Errorf("expected no project config for empty dir, got %q", got)
	}
}
