package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML unmarshalling from "30s" / "2h"
// strings. Bare integers are rejected; durations in config must be explicit.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// StageConfig is the dispatcher configuration for one RPC stage.
type StageConfig struct {
	Endpoint      string   `yaml:"endpoint"`
	Timeout       Duration `yaml:"timeout"`
	MaxRetries    int      `yaml:"max_retries"`
	RetryBackoff  Duration `yaml:"retry_backoff"`
	BackoffCeiling Duration `yaml:"backoff_ceiling"`
	MaxConcurrent int      `yaml:"max_concurrent"`
}

// ConversationConfig controls conversation state retention.
type ConversationConfig struct {
	MaxTurns  int      `yaml:"max_turns"`
	TTL       Duration `yaml:"ttl"`
	KeyPrefix string   `yaml:"key_prefix"`
	LockWait  Duration `yaml:"lock_wait"`
}

// PipelineConfig controls per-request budgets and limits.
type PipelineConfig struct {
	Version       string   `yaml:"version"`
	TotalDeadline Duration `yaml:"total_deadline"`
	EvalDeadline  Duration `yaml:"eval_deadline"`
	ResultHardCap int      `yaml:"result_hard_cap"`
}

// CacheConfig controls the response cache. Enabled is a pointer so an
// explicit `enabled: false` survives the defaults merge.
type CacheConfig struct {
	Enabled        *bool    `yaml:"enabled,omitempty"`
	DataQueryTTL   Duration `yaml:"data_query_ttl"`
	StatisticalTTL Duration `yaml:"statistical_ttl"`
	MaxEntries     int      `yaml:"max_entries"`
}

// CacheEnabled reports whether the response cache is on (default true).
func (c *CacheConfig) CacheEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ModelPrice holds USD rates per 1k tokens for one model.
type ModelPrice struct {
	PromptRate     float64 `yaml:"prompt_rate"`
	CompletionRate float64 `yaml:"completion_rate"`
}

// ReferenceConfig is the reference-resolution vocabulary and tuning.
// Ordinals map a surface form to a 1-based position; -1 means "last".
type ReferenceConfig struct {
	Enabled        *bool          `yaml:"enabled,omitempty"`
	RecencyTurns   int            `yaml:"recency_turns"`
	FuzzyThreshold float64        `yaml:"fuzzy_threshold"`
	Ordinals       map[string]int `yaml:"ordinals"`
	Demonstratives []string       `yaml:"demonstratives"`
	BackReferences []string       `yaml:"back_references"`
	ResetCues      []string       `yaml:"reset_cues"`
}

// ResolutionEnabled reports whether reference resolution is on (default true).
func (r *ReferenceConfig) ResolutionEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// RedisConfig locates the conversation/cache backing store. The password is
// read from the environment variable named by PasswordEnv (empty = no auth).
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	DB          int    `yaml:"db"`
	PasswordEnv string `yaml:"password_env"`
}
