package config

import (
	"time"

	"github.com/ceci-ai/botchain/pkg/stages"
)

// DefaultConversationConfig returns the built-in conversation defaults.
func DefaultConversationConfig() *ConversationConfig {
	return &ConversationConfig{
		MaxTurns:  20,
		TTL:       Duration(2 * time.Hour),
		KeyPrefix: "chat",
		LockWait:  Duration(5 * time.Second),
	}
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Version:       "v1",
		TotalDeadline: Duration(30 * time.Second),
		EvalDeadline:  Duration(120 * time.Second),
		ResultHardCap: 50,
	}
}

// DefaultCacheConfig returns the built-in response cache defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		DataQueryTTL:   Duration(4 * time.Hour),
		StatisticalTTL: Duration(24 * time.Hour),
		MaxEntries:     10_000,
	}
}

// DefaultStageConfig returns the per-stage dispatcher defaults applied to
// any stage the deployment does not tune explicitly. Endpoint has no
// default; a missing endpoint is a validation error.
func DefaultStageConfig() StageConfig {
	return StageConfig{
		Timeout:        Duration(10 * time.Second),
		MaxRetries:     2,
		RetryBackoff:   Duration(200 * time.Millisecond),
		BackoffCeiling: Duration(3 * time.Second),
		MaxConcurrent:  32,
	}
}

// defaultStageTimeouts overrides the generic stage timeout for stages with
// known latency profiles.
var defaultStageTimeouts = map[stages.Name]Duration{
	stages.Rewrite: Duration(8 * time.Second),
	stages.Intent:  Duration(10 * time.Second),
	stages.SQLGen:  Duration(12 * time.Second),
	stages.Rank:    Duration(15 * time.Second),
	stages.Eval:    Duration(90 * time.Second),
	stages.Clarify: Duration(8 * time.Second),
	stages.Format:  Duration(15 * time.Second),
}

// DefaultReferenceConfig returns the built-in Hebrew reference vocabulary.
// Deployments may override any list wholesale for locale tuning.
func DefaultReferenceConfig() *ReferenceConfig {
	return &ReferenceConfig{
		RecencyTurns:   3,
		FuzzyThreshold: 0.6,
		Ordinals: map[string]int{
			"הראשון":  1,
			"הראשונה": 1,
			"השני":    2,
			"השנייה":  2,
			"השניה":   2,
			"השלישי":  3,
			"השלישית": 3,
			"הרביעי":  4,
			"הרביעית": 4,
			"החמישי":  5,
			"החמישית": 5,
			"השישי":   6,
			"השישית":  6,
			"השביעי":  7,
			"השביעית": 7,
			"השמיני":  8,
			"השמינית": 8,
			"התשיעי":  9,
			"התשיעית": 9,
			"העשירי":  10,
			"העשירית": 10,
			"האחרון":  -1,
			"האחרונה": -1,
		},
		Demonstratives: []string{"זה", "זו", "זאת", "אותו", "אותה", "אותם"},
		BackReferences: []string{"הקודם", "הקודמת", "שהראית לי", "שהצגת"},
		ResetCues:      []string{"שאלה חדשה", "נושא חדש", "בוא נתחיל מחדש", "תתעלם ממה שאמרתי"},
	}
}

// timeSensitiveTokens mark utterances whose answers are clock-dependent and
// therefore never cacheable.
var timeSensitiveTokens = []string{"האחרונות", "האחרונים", "לאחרונה", "העדכני", "העדכנית", "היום", "השבוע", "החודש"}

// TimeSensitiveTokens returns the clock-dependent vocabulary used by the
// cacheability predicate.
func TimeSensitiveTokens() []string {
	return append([]string(nil), timeSensitiveTokens...)
}

// DefaultModelPrices covers the models the deployed stages are known to run.
// Unknown models cost zero and raise a model_unknown ledger warning.
func DefaultModelPrices() map[string]ModelPrice {
	return map[string]ModelPrice{
		"gpt-4o":      {PromptRate: 0.0025, CompletionRate: 0.01},
		"gpt-4o-mini": {PromptRate: 0.00015, CompletionRate: 0.0006},
	}
}
