package planner

import "github.com/ceci-ai/botchain/pkg/models"

// cacheableIntent reports whether an intent's answers may be memoized.
// Never ANALYSIS, COMPARISON, RESULT_REF, or clarification routes.
func cacheableIntent(intent models.Intent) bool {
	return intent == models.IntentDataQuery || intent == models.IntentStatistical
}

// cacheableText reports whether the utterance itself is cache-safe: no
// reference tokens (they bind to per-conversation state) and no
// clock-dependent operators.
func (p *Planner) cacheableText(text string) bool {
	return !p.scanner.HasReference(text) && !p.scanner.HasTimeSensitive(text)
}

// cacheable is the full predicate over a resolved turn. All conditions
// must hold; the cache layer itself is never consulted for this decision.
func (p *Planner) cacheable(intent models.Intent, text string, frame models.EntityFrame) bool {
	if !p.cfg.Cache.CacheEnabled() || p.cache == nil {
		return false
	}
	if !cacheableIntent(intent) {
		return false
	}
	// A specific decision number makes the answer per-entity; serving it
	// across conversations from a shared cache is unsafe.
	if frame.DecisionNumber != nil {
		return false
	}
	return p.cacheableText(text)
}
