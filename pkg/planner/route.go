package planner

import "github.com/ceci-ai/botchain/pkg/models"

// missingSlots applies the required-slot table to the effective frame after
// reference resolution. A non-empty result routes the turn to CLARIFY.
func missingSlots(intent models.Intent, frame models.EntityFrame, resolvedID string) []string {
	switch intent {
	case models.IntentAnalysis:
		if frame.DecisionNumber == nil && resolvedID == "" {
			return []string{"decision_number"}
		}
	case models.IntentResultRef:
		if resolvedID == "" {
			return []string{"resolved_reference"}
		}
	case models.IntentComparison:
		if countSubjects(frame) < 2 {
			return []string{"second_subject"}
		}
	}
	// DATA_QUERY and STATISTICAL have no hard slot requirements.
	return nil
}

// countSubjects counts distinguishable entity kinds set in the frame,
// the comparison route's notion of "subjects".
func countSubjects(frame models.EntityFrame) int {
	n := 0
	if frame.DecisionNumber != nil {
		n++
	}
	if frame.GovernmentNumber != nil {
		n++
	}
	if frame.Topic != "" {
		n++
	}
	if len(frame.Ministries) > 0 {
		n++
	}
	if frame.DateRange != nil {
		n++
	}
	return n
}

// conflictsWith reports whether delta rebinds an already-set kind to a
// different value. A conflicting rebind on a non-reference turn signals
// that the user started an independent query.
func conflictsWith(stored, delta models.EntityFrame) bool {
	if stored.DecisionNumber != nil && delta.DecisionNumber != nil &&
		*stored.DecisionNumber != *delta.DecisionNumber {
		return true
	}
	if stored.GovernmentNumber != nil && delta.GovernmentNumber != nil &&
		*stored.GovernmentNumber != *delta.GovernmentNumber {
		return true
	}
	if stored.Topic != "" && delta.Topic != "" && stored.Topic != delta.Topic {
		return true
	}
	return false
}

// isScopeBreak decides whether this turn discards prior entity bindings:
// an explicit reset cue, a new decision number replacing an old one, or a
// non-reference turn whose entities contradict the stored frame.
func (p *Planner) isScopeBreak(text string, stored, delta models.EntityFrame, intent models.Intent, refHits []RefHit) bool {
	if p.scanner.HasResetCue(text) {
		return true
	}
	if stored.DecisionNumber != nil && delta.DecisionNumber != nil &&
		*stored.DecisionNumber != *delta.DecisionNumber {
		return true
	}
	if intent != models.IntentResultRef && len(refHits) == 0 && conflictsWith(stored, delta) {
		return true
	}
	return false
}
