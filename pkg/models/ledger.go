package models

// CallOutcome classifies how a single stage invocation ended.
type CallOutcome string

const (
	OutcomeOK         CallOutcome = "ok"
	OutcomeTimeout    CallOutcome = "timeout"
	OutcomeStageError CallOutcome = "stage-error"
	OutcomeMalformed  CallOutcome = "malformed"
)

// TokenUsage is the usage block stages return alongside their payload.
// A zero value means the stage reported no usage (non-LLM stage or a
// contract omission); the ledger records zeros in that case.
type TokenUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model,omitempty"`
}

// StageCallRecord is one ledger entry: a single stage invocation with its
// usage, latency, and outcome.
type StageCallRecord struct {
	Stage            string      `json:"stage"`
	Model            string      `json:"model,omitempty"`
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	ElapsedMS        int64       `json:"elapsed_ms"`
	Outcome          CallOutcome `json:"outcome"`
	CostUSD          float64     `json:"cost_usd"`
}

// LedgerSnapshot is the per-request usage aggregate carried on the final
// /chat event. TotalTokens always equals the sum over PerStage.
type LedgerSnapshot struct {
	TotalPrompt     int               `json:"total_prompt_tokens"`
	TotalCompletion int               `json:"total_completion_tokens"`
	TotalTokens     int               `json:"total_tokens"`
	TotalCostUSD    float64           `json:"total_cost_usd"`
	PerStage        []StageCallRecord `json:"per_stage"`
	Warnings        []string          `json:"warnings,omitempty"`
}
