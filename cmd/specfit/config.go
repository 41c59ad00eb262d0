package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/specfit/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View or create specfit configuration.

Configuration is stored at ~/.config/specfit/config.yaml.
Project-specific overrides can be placed in .specfit.yaml.
Environment variables SPECFIT_<SECTION>_<KEY> override both, and
ANTHROPIC_API_KEY / OPENAI_API_KEY supply API keys.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		shown.Anthropic.APIKey = config.MaskAPIKey(cfg.Anthropic.APIKey)
		shown.OpenAI.APIKey = config.MaskAPIKey(cfg.OpenAI.APIKey)

		out, err := yaml.Marshal(configView(&shown))
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file locations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none)"
		}
		fmt.Fprintf(w, "project: %s\n", project)
		fmt.Fprintf(w, "anthropic key: %s\n", config.GetAPIKeySource(cfg, config.ProviderAnthropic))
		fmt.Fprintf(w, "openai key:    %s\n", config.GetAPIKeySource(cfg, config.ProviderOpenAI))
	},
}

var (
	configInitProject bool
	configInitForce   bool
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetUserConfigPath()
		if configInitProject {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			path = filepath.Join(cwd, config.ProjectFileName)
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		def := config.Default()
		def.Anthropic.APIKey = "${ANTHROPIC_API_KEY}"
		def.OpenAI.APIKey = "${OPENAI_API_KEY}"
		if err := config.SaveTo(def, path); err != nil {
			return err
		}
		printStatus("✓", "wrote "+path, color.FgGreen)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitProject, "project", false, "Write .specfit.yaml in the current directory")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
}

// configView maps the config onto its file keys for display.
func configView(c *config.Config) map[string]any {
	return map[string]any{
		"anthropic": map[string]any{
			"api_key":     c.Anthropic.APIKey,
			"model":       c.Anthropic.Model,
			"base_url":    c.Anthropic.BaseURL,
			"max_retries": c.Anthropic.MaxRetries,
			"max_tokens":  c.Anthropic.MaxTokens,
			"bedrock":     c.Anthropic.Bedrock,
			"aws_region":  c.Anthropic.AWSRegion,
			"aws_profile": c.Anthropic.AWSProfile,
		},
		"openai": map[string]any{
			"api_key":  c.OpenAI.APIKey,
			"base_url": c.OpenAI.BaseURL,
		},
		"embedding": map[string]any{
			"enabled":             c.Embedding.Enabled,
			"model":               c.Embedding.Model,
			"requests_per_second": c.Embedding.RequestsPerSecond,
			"batch_size":          c.Embedding.BatchSize,
			"cache_path":          c.Embedding.CachePath,
		},
		"matcher": map[string]any{
			"high":        c.Matcher.High,
			"low":         c.Matcher.Low,
			"heuristic":   c.Matcher.Heuristic,
			"lexical":     c.Matcher.Lexical,
			"arbiter":     c.Matcher.Arbiter,
			"arbiter_cap": c.Matcher.ArbiterCap,
			"concurrency": c.Matcher.Concurrency,
			"timeout":     c.Matcher.Timeout.String(),
		},
		"repair": map[string]any{
			"target":            c.Repair.Target,
			"max_iterations":    c.Repair.MaxIterations,
			"stagnation_limit":  c.Repair.StagnationLimit,
			"generate_timeout":  c.Repair.GenerateTimeout.String(),
			"send_files":        c.Repair.SendFiles,
			"generator":         c.Repair.Generator,
			"generator_command": c.Repair.GeneratorCommand,
		},
		"extract": map[string]any{
			"strategy":        c.Extract.Strategy,
			"include":         c.Extract.Include,
			"exclude":         c.Extract.Exclude,
			"openapi_path":    c.Extract.OpenAPIPath,
			"service_command": c.Extract.ServiceCommand,
			"service_url":     c.Extract.ServiceURL,
			"ready_timeout":   c.Extract.ReadyTimeout.String(),
			"fetch_timeout":   c.Extract.FetchTimeout.String(),
		},
		"patterns": map[string]any{
			"scope": c.Patterns.Scope,
			"path":  c.Patterns.Path,
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
		"rules_file": c.RulesFile,
	}
}
