package models

// Intent is the canonical classification produced by the INTENT stage.
type Intent string

const (
	IntentDataQuery          Intent = "DATA_QUERY"
	IntentAnalysis           Intent = "ANALYSIS"
	IntentStatistical        Intent = "STATISTICAL"
	IntentComparison         Intent = "COMPARISON"
	IntentResultRef          Intent = "RESULT_REF"
	IntentClarificationNeeded Intent = "CLARIFICATION_NEEDED"
	IntentUnclear            Intent = "UNCLEAR"
)

// Valid reports whether the intent is one of the canonical values.
func (i Intent) Valid() bool {
	switch i {
	case IntentDataQuery, IntentAnalysis, IntentStatistical, IntentComparison,
		IntentResultRef, IntentClarificationNeeded, IntentUnclear:
		return true
	}
	return false
}

// RouteFlags carry the INTENT stage's routing hints.
type RouteFlags struct {
	NeedsClarification bool `json:"needs_clarification,omitempty"`
	HasContext         bool `json:"has_context,omitempty"`
	IsFollowUp         bool `json:"is_follow_up,omitempty"`
}

// IntentRecord is the full output of intent classification for one turn.
type IntentRecord struct {
	Intent     Intent      `json:"intent"`
	Confidence float64     `json:"confidence"`
	Entities   EntityFrame `json:"entities"`
	Flags      RouteFlags  `json:"route_flags"`
}
