package stages

import "github.com/ceci-ai/botchain/pkg/models"

// Every stage accepts and returns JSON over HTTP POST. The core depends
// only on the fields below; unknown response fields are ignored.

// RewriteRequest is the input to POST /rewrite.
type RewriteRequest struct {
	Text   string `json:"text"`
	ConvID string `json:"conv_id"`
}

// Correction describes one normalization the rewrite stage applied.
type Correction struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// RewriteResponse is the output of POST /rewrite.
type RewriteResponse struct {
	CleanText   string             `json:"clean_text"`
	Corrections []Correction       `json:"corrections,omitempty"`
	TokenUsage  *models.TokenUsage `json:"token_usage,omitempty"`
}

// IntentRequest is the input to POST /intent.
type IntentRequest struct {
	CleanText     string `json:"clean_text"`
	ConvID        string `json:"conv_id"`
	ContextDigest string `json:"context_digest,omitempty"`
}

// IntentResponse is the output of POST /intent.
type IntentResponse struct {
	Intent     models.Intent      `json:"intent"`
	Confidence float64            `json:"confidence"`
	Entities   models.EntityFrame `json:"entities"`
	RouteFlags models.RouteFlags  `json:"route_flags"`
	TokenUsage *models.TokenUsage `json:"token_usage,omitempty"`
}

// SQLGenRequest is the input to POST /sqlgen.
type SQLGenRequest struct {
	Intent   models.Intent      `json:"intent"`
	Entities models.EntityFrame `json:"entities"`
	ConvID   string             `json:"conv_id"`
}

// SQLGenResponse is the output of POST /sqlgen. Either SQL (ad-hoc) or
// TemplateID (parameterized template known to the corpus layer) is set.
type SQLGenResponse struct {
	SQL        string             `json:"sql,omitempty"`
	TemplateID string             `json:"template_id,omitempty"`
	Parameters []any              `json:"parameters,omitempty"`
	QueryType  string             `json:"query_type,omitempty"` // "list" or "count"
	TokenUsage *models.TokenUsage `json:"token_usage,omitempty"`
}

// RankRequest is the input to POST /rank.
type RankRequest struct {
	Artifacts     []models.ResultArtifact `json:"artifacts"`
	OriginalQuery string                  `json:"original_query"`
	Limit         int                     `json:"limit"`
}

// RankResponse is the output of POST /rank.
type RankResponse struct {
	Ranked     []models.ResultArtifact `json:"ranked"`
	TokenUsage *models.TokenUsage      `json:"token_usage,omitempty"`
}

// EvalRequest is the input to POST /evaluate.
type EvalRequest struct {
	ArtifactID    string `json:"artifact_id"`
	OriginalQuery string `json:"original_query"`
}

// CriterionScore is one row of the evaluation rubric breakdown.
type CriterionScore struct {
	Criterion string  `json:"criterion"`
	Score     float64 `json:"score"`
	Comment   string  `json:"comment,omitempty"`
}

// EvalResponse is the output of POST /evaluate.
type EvalResponse struct {
	Score             float64            `json:"score"`
	RelevanceLevel    string             `json:"relevance_level"`
	Explanation       string             `json:"explanation"`
	CriteriaBreakdown []CriterionScore   `json:"criteria_breakdown,omitempty"`
	TokenUsage        *models.TokenUsage `json:"token_usage,omitempty"`
}

// ClarifyRequest is the input to POST /clarify.
type ClarifyRequest struct {
	KnownEntities models.EntityFrame `json:"known_entities"`
	MissingSlots  []string           `json:"missing_slots,omitempty"`
	ConvID        string             `json:"conv_id"`
}

// ClarifyResponse is the output of POST /clarify.
type ClarifyResponse struct {
	Question   string             `json:"question"`
	TokenUsage *models.TokenUsage `json:"token_usage,omitempty"`
}

// Format data types: the shape of the content being rendered.
const (
	FormatDataRankedRows = "ranked_rows"
	FormatDataCount      = "count"
	FormatDataAnalysis   = "analysis"
	FormatDataEmpty      = "empty"
)

// Presentation styles accepted by the format stage.
const (
	StyleCard     = "card"
	StyleBrief    = "brief"
	StyleDetailed = "detailed"
)

// FormatRequest is the input to POST /format.
type FormatRequest struct {
	DataType          string `json:"data_type"`
	Content           any    `json:"content"`
	OriginalQuery     string `json:"original_query"`
	PresentationStyle string `json:"presentation_style"`
	ConvID            string `json:"conv_id"`
}

// FormatResponse is the output of POST /format.
type FormatResponse struct {
	FormattedResponse string             `json:"formatted_response"`
	Metadata          map[string]any     `json:"metadata,omitempty"`
	TokenUsage        *models.TokenUsage `json:"token_usage,omitempty"`
}

// AnalysisContent is the merged formatting input for ANALYSIS routes:
// the evaluated artifact plus the evaluation result.
type AnalysisContent struct {
	Artifact   models.ResultArtifact `json:"artifact"`
	Evaluation EvalResponse          `json:"evaluation"`
}

// CountContent is the formatting input for count-only STATISTICAL routes.
type CountContent struct {
	Count int `json:"count"`
}
