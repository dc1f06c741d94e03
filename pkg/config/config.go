// Package config loads and validates the orchestrator configuration from
// YAML files with {{.VAR}} environment expansion.
package config

import (
	"fmt"

	"github.com/ceci-ai/botchain/pkg/stages"
)

// Config is the umbrella configuration object returned by Initialize()
// and passed by reference into the composition root.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Conversation *ConversationConfig
	Pipeline     *PipelineConfig
	Cache        *CacheConfig
	References   *ReferenceConfig
	Redis        *RedisConfig

	// Stages maps every RPC stage to its dispatcher configuration.
	// Validation guarantees an entry exists for each member of
	// stages.RPCStages() and for nothing else.
	Stages map[stages.Name]*StageConfig

	// Models is the price table: model name → USD rates per 1k tokens.
	Models map[string]ModelPrice
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stage retrieves one stage's dispatcher configuration.
func (c *Config) Stage(name stages.Name) (*StageConfig, error) {
	sc, ok := c.Stages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	return sc, nil
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Stages int
	Models int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	return Stats{
		Stages: len(c.Stages),
		Models: len(c.Models),
	}
}
