package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// MaestroYAMLConfig represents the complete maestro.yaml file structure.
type MaestroYAMLConfig struct {
	System   *SystemConfig                 `yaml:"system"`
	Services map[string]*ServiceConfig     `yaml:"services"`
	Prompts  map[string]*PromptConfig      `yaml:"prompts"`
	Defaults *DefaultsYAML                 `yaml:"defaults"`
}

// DefaultsYAML mirrors Defaults with YAML-friendly duration strings.
type DefaultsYAML struct {
	MaxIterations        int    `yaml:"max_iterations,omitempty"`
	MaxPlannerIterations int    `yaml:"max_planner_iterations,omitempty"`
	ToolCallTimeout      string `yaml:"tool_call_timeout,omitempty"`
	LLMTimeout           string `yaml:"llm_timeout,omitempty"`
}

// LLMProvidersYAMLConfig represents the llm-providers.yaml file structure.
type LLMProvidersYAMLConfig struct {
	LLMProviders    map[string]*LLMProviderConfig `yaml:"llm_providers"`
	DefaultProvider string                        `yaml:"default_provider,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load YAML files from configDir (both optional; built-ins apply)
//  2. Expand environment variables
//  3. Merge built-in + user-defined configurations
//  4. Build registries and apply defaults
//  5. Validate everything
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"services", stats.Services,
		"llm_providers", stats.LLMProviders,
		"prompts", stats.Prompts)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	maestroCfg, err := loader.loadMaestroYAML()
	if err != nil {
		return nil, NewLoadError("maestro.yaml", err)
	}

	providersCfg, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	builtin := GetBuiltinConfig()

	services := mergeMaps(builtin.Services, maestroCfg.Services)
	prompts := mergeMaps(builtin.Prompts, maestroCfg.Prompts)
	providers := mergeMaps(builtin.LLMProviders, providersCfg.LLMProviders)

	defaultProvider := builtin.DefaultProvider
	if providersCfg.DefaultProvider != "" {
		defaultProvider = providersCfg.DefaultProvider
	}

	defaults, err := resolveDefaults(maestroCfg.Defaults)
	if err != nil {
		return nil, err
	}

	system := maestroCfg.System
	if system == nil {
		system = &SystemConfig{}
	}
	if system.Storage == nil {
		system.Storage = &StorageConfig{
			CheckpointPath:  "data/checkpoints.db",
			SchemaIndexPath: "data/schema-index.db",
		}
	}

	return &Config{
		configDir:        configDir,
		Defaults:         defaults,
		System:           system,
		Services:         NewServiceRegistry(services),
		LLMProviders:     NewLLMProviderRegistry(providers),
		Prompts:          prompts,
		DefaultProvider:  defaultProvider,
		AllowedWSOrigins: system.AllowedWSOrigins,
	}, nil
}

// resolveDefaults merges user-supplied loop bounds over the built-in values.
func resolveDefaults(user *DefaultsYAML) (*Defaults, error) {
	defaults := DefaultDefaults()
	if user == nil {
		return defaults, nil
	}

	override := &Defaults{
		MaxIterations:        user.MaxIterations,
		MaxPlannerIterations: user.MaxPlannerIterations,
	}
	if user.ToolCallTimeout != "" {
		d, err := time.ParseDuration(user.ToolCallTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid tool_call_timeout %q: %w", user.ToolCallTimeout, err)
		}
		override.ToolCallTimeout = d
	}
	if user.LLMTimeout != "" {
		d, err := time.ParseDuration(user.LLMTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid llm_timeout %q: %w", user.LLMTimeout, err)
		}
		override.LLMTimeout = d
	}

	if err := mergo.Merge(defaults, override, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge defaults: %w", err)
	}
	return defaults, nil
}

// mergeMaps overlays user entries on built-in entries. A user entry with the
// same key replaces the built-in wholesale.
func mergeMaps[V any](builtin, user map[string]V) map[string]V {
	merged := make(map[string]V, len(builtin)+len(user))
	for k, v := range builtin {
		merged[k] = v
	}
	for k, v := range user {
		merged[k] = v
	}
	return merged
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

type configLoader struct {
	configDir string
}

// loadYAML reads, env-expands, and parses one file. A missing file is not an
// error for optional configs; callers check os.IsNotExist via ErrConfigNotFound.
func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (l *configLoader) loadMaestroYAML() (*MaestroYAMLConfig, error) {
	cfg := &MaestroYAMLConfig{
		Services: make(map[string]*ServiceConfig),
		Prompts:  make(map[string]*PromptConfig),
	}
	if err := l.loadYAML("maestro.yaml", cfg); err != nil {
		if isNotFound(err) {
			slog.Info("No maestro.yaml found, using built-in configuration")
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

func (l *configLoader) loadLLMProvidersYAML() (*LLMProvidersYAMLConfig, error) {
	cfg := &LLMProvidersYAMLConfig{
		LLMProviders: make(map[string]*LLMProviderConfig),
	}
	if err := l.loadYAML("llm-providers.yaml", cfg); err != nil {
		if isNotFound(err) {
			slog.Info("No llm-providers.yaml found, using built-in providers")
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrConfigNotFound) || os.IsNotExist(err)
}
