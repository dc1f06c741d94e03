package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/ceci-ai/botchain/pkg/stages"
)

// BotchainYAMLConfig represents the complete botchain.yaml file structure.
type BotchainYAMLConfig struct {
	Conversation *ConversationConfig     `yaml:"conversation"`
	Pipeline     *PipelineConfig         `yaml:"pipeline"`
	Cache        *CacheConfig            `yaml:"cache"`
	References   *ReferenceConfig        `yaml:"references"`
	Redis        *RedisConfig            `yaml:"redis"`
	Stages       map[string]*StageConfig `yaml:"stages"`
}

// ModelsYAMLConfig represents the complete model-prices.yaml file structure.
type ModelsYAMLConfig struct {
	Models map[string]ModelPrice `yaml:"models"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user-defined values over built-in defaults
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"stages", stats.Stages,
		"models", stats.Models)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	// 1. Load botchain.yaml (conversation, pipeline, cache, references, stages)
	raw, err := loader.loadBotchainYAML()
	if err != nil {
		return nil, NewLoadError("botchain.yaml", err)
	}

	// 2. Load model-prices.yaml (optional; built-in table used when absent)
	prices, err := loader.loadModelPricesYAML()
	if err != nil {
		return nil, NewLoadError("model-prices.yaml", err)
	}

	// 3. Resolve sections (user YAML merged over built-in defaults;
	//    non-zero user values override)
	conversation := DefaultConversationConfig()
	if raw.Conversation != nil {
		if err := mergo.Merge(conversation, raw.Conversation, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge conversation config: %w", err)
		}
	}

	pipeline := DefaultPipelineConfig()
	if raw.Pipeline != nil {
		if err := mergo.Merge(pipeline, raw.Pipeline, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge pipeline config: %w", err)
		}
	}

	cache := DefaultCacheConfig()
	if raw.Cache != nil {
		if err := mergo.Merge(cache, raw.Cache, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge cache config: %w", err)
		}
	}

	references := DefaultReferenceConfig()
	if raw.References != nil {
		if err := mergo.Merge(references, raw.References, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge references config: %w", err)
		}
	}

	redis := &RedisConfig{Addr: "localhost:6379"}
	if raw.Redis != nil {
		if err := mergo.Merge(redis, raw.Redis, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge redis config: %w", err)
		}
	}

	stageConfigs, err := resolveStages(raw.Stages)
	if err != nil {
		return nil, err
	}

	// 4. Resolve model prices (user table merged over built-in)
	models := DefaultModelPrices()
	for name, price := range prices {
		models[name] = price
	}

	return &Config{
		configDir:    configDir,
		Conversation: conversation,
		Pipeline:     pipeline,
		Cache:        cache,
		References:   references,
		Redis:        redis,
		Stages:       stageConfigs,
		Models:       models,
	}, nil
}

// resolveStages builds the closed per-stage map: every RPC stage gets an
// entry (defaults + per-stage timeout profile + user overrides); any YAML
// key outside the alphabet is a configuration error at startup.
func resolveStages(user map[string]*StageConfig) (map[stages.Name]*StageConfig, error) {
	for id := range user {
		if !stages.KnownRPCStage(stages.Name(id)) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, id)
		}
	}

	out := make(map[stages.Name]*StageConfig, len(stages.RPCStages()))
	for _, name := range stages.RPCStages() {
		sc := DefaultStageConfig()
		if t, ok := defaultStageTimeouts[name]; ok {
			sc.Timeout = t
		}
		if u := user[string(name)]; u != nil {
			if err := mergo.Merge(&sc, u, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge stage %s config: %w", name, err)
			}
		}
		out[name] = &sc
	}
	return out, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadBotchainYAML() (*BotchainYAMLConfig, error) {
	var config BotchainYAMLConfig
	config.Stages = make(map[string]*StageConfig)

	if err := l.loadYAML("botchain.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadModelPricesYAML() (map[string]ModelPrice, error) {
	var config ModelsYAMLConfig
	config.Models = make(map[string]ModelPrice)

	if err := l.loadYAML("model-prices.yaml", &config); err != nil {
		// The price table is optional; the built-in table applies.
		if errors.Is(err, ErrConfigNotFound) {
			return config.Models, nil
		}
		return nil, err
	}

	return config.Models, nil
}
