package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/ceci-ai/botchain/pkg/stages"
)

// Validator performs startup validation on a loaded Config.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates every configuration section and returns all
// problems joined, so a broken deployment sees the full list at once.
func (v *Validator) ValidateAll() error {
	var errs []error

	errs = append(errs, v.validateConversation()...)
	errs = append(errs, v.validatePipeline()...)
	errs = append(errs, v.validateCache()...)
	errs = append(errs, v.validateReferences()...)
	errs = append(errs, v.validateRedis()...)
	errs = append(errs, v.validateStages()...)
	errs = append(errs, v.validateModels()...)

	return errors.Join(errs...)
}

func (v *Validator) validateConversation() []error {
	var errs []error
	c := v.cfg.Conversation
	if c.MaxTurns <= 0 {
		errs = append(errs, NewValidationError("conversation", "max_turns", "", ErrInvalidValue))
	}
	if c.TTL <= 0 {
		errs = append(errs, NewValidationError("conversation", "ttl", "", ErrInvalidValue))
	}
	if c.KeyPrefix == "" {
		errs = append(errs, NewValidationError("conversation", "key_prefix", "", ErrMissingRequiredField))
	}
	if c.LockWait <= 0 {
		errs = append(errs, NewValidationError("conversation", "lock_wait", "", ErrInvalidValue))
	}
	return errs
}

func (v *Validator) validatePipeline() []error {
	var errs []error
	p := v.cfg.Pipeline
	if p.Version == "" {
		errs = append(errs, NewValidationError("pipeline", "version", "", ErrMissingRequiredField))
	}
	if p.TotalDeadline <= 0 {
		errs = append(errs, NewValidationError("pipeline", "total_deadline", "", ErrInvalidValue))
	}
	if p.EvalDeadline < p.TotalDeadline {
		errs = append(errs, NewValidationError("pipeline", "eval_deadline", "",
			fmt.Errorf("%w: must be >= total_deadline", ErrInvalidValue)))
	}
	if p.ResultHardCap <= 0 || p.ResultHardCap > 1000 {
		errs = append(errs, NewValidationError("pipeline", "result_hard_cap", "", ErrInvalidValue))
	}
	return errs
}

func (v *Validator) validateCache() []error {
	var errs []error
	c := v.cfg.Cache
	if c.DataQueryTTL <= 0 {
		errs = append(errs, NewValidationError("cache", "data_query_ttl", "", ErrInvalidValue))
	}
	if c.StatisticalTTL <= 0 {
		errs = append(errs, NewValidationError("cache", "statistical_ttl", "", ErrInvalidValue))
	}
	if c.MaxEntries <= 0 {
		errs = append(errs, NewValidationError("cache", "max_entries", "", ErrInvalidValue))
	}
	return errs
}

func (v *Validator) validateReferences() []error {
	var errs []error
	r := v.cfg.References
	if r.RecencyTurns <= 0 {
		errs = append(errs, NewValidationError("references", "recency_turns", "", ErrInvalidValue))
	}
	if r.FuzzyThreshold < 0 || r.FuzzyThreshold > 1 {
		errs = append(errs, NewValidationError("references", "fuzzy_threshold", "", ErrInvalidValue))
	}
	for word, pos := range r.Ordinals {
		if pos == 0 {
			errs = append(errs, NewValidationError("references", "ordinals", word,
				fmt.Errorf("%w: position must be 1-based or -1 for last", ErrInvalidValue)))
		}
	}
	return errs
}

func (v *Validator) validateRedis() []error {
	if v.cfg.Redis.Addr == "" {
		return []error{NewValidationError("redis", "addr", "", ErrMissingRequiredField)}
	}
	return nil
}

func (v *Validator) validateStages() []error {
	var errs []error
	for _, name := range stages.RPCStages() {
		sc := v.cfg.Stages[name]
		if sc == nil {
			errs = append(errs, NewValidationError("stage", string(name), "", ErrMissingRequiredField))
			continue
		}
		if sc.Endpoint == "" {
			errs = append(errs, NewValidationError("stage", string(name), "endpoint", ErrMissingRequiredField))
		} else if _, err := url.ParseRequestURI(sc.Endpoint); err != nil {
			errs = append(errs, NewValidationError("stage", string(name), "endpoint",
				fmt.Errorf("%w: %v", ErrInvalidValue, err)))
		}
		if sc.Timeout <= 0 {
			errs = append(errs, NewValidationError("stage", string(name), "timeout", ErrInvalidValue))
		}
		if sc.MaxRetries < 0 {
			errs = append(errs, NewValidationError("stage", string(name), "max_retries", ErrInvalidValue))
		}
		if sc.MaxConcurrent <= 0 {
			errs = append(errs, NewValidationError("stage", string(name), "max_concurrent", ErrInvalidValue))
		}
	}
	return errs
}

func (v *Validator) validateModels() []error {
	var errs []error
	for name, price := range v.cfg.Models {
		if price.PromptRate < 0 || price.CompletionRate < 0 {
			errs = append(errs, NewValidationError("model", name, "", ErrInvalidValue))
		}
	}
	return errs
}
