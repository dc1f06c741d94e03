// Package ledger accumulates per-request token usage and model cost across
// pipeline stages. A Ledger is owned by a single request and is safe for
// the request's own goroutines (fire-and-forget records during streaming).
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/ceci-ai/botchain/pkg/config"
	"github.com/ceci-ai/botchain/pkg/models"
	"github.com/ceci-ai/botchain/pkg/stages"
)

// Ledger records one StageCallRecord per stage for one request.
// Record is idempotent on (request, stage): re-recording a stage replaces
// its previous entry so a retried stage cannot double-count. Insertion
// order of first records is preserved in the snapshot.
type Ledger struct {
	requestID string
	prices    map[string]config.ModelPrice

	mu       sync.Mutex
	order    []stages.Name
	entries  map[stages.Name]models.StageCallRecord
	warnings []string
	warned   map[string]bool
}

// New creates a ledger for one request. prices is the model price table
// (USD per 1k tokens); unknown models cost zero and raise a model_unknown
// warning once per model.
func New(requestID string, prices map[string]config.ModelPrice) *Ledger {
	return &Ledger{
		requestID: requestID,
		prices:    prices,
		entries:   make(map[stages.Name]models.StageCallRecord),
		warned:    make(map[string]bool),
	}
}

// RequestID returns the owning request id.
func (l *Ledger) RequestID() string { return l.requestID }

// Record adds or replaces the entry for a stage. Recording never fails the
// request; there is no error to return.
func (l *Ledger) Record(stage stages.Name, usage models.TokenUsage, elapsed time.Duration, outcome models.CallOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := models.StageCallRecord{
		Stage:            string(stage),
		Model:            usage.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		ElapsedMS:        elapsed.Milliseconds(),
		Outcome:          outcome,
		CostUSD:          l.cost(usage),
	}

	if _, exists := l.entries[stage]; !exists {
		l.order = append(l.order, stage)
	}
	l.entries[stage] = rec
}

// cost derives USD cost from the price table. Caller holds l.mu.
func (l *Ledger) cost(usage models.TokenUsage) float64 {
	if usage.Model == "" {
		return 0
	}
	price, ok := l.prices[usage.Model]
	if !ok {
		if !l.warned[usage.Model] {
			l.warned[usage.Model] = true
			l.warnings = append(l.warnings, fmt.Sprintf("model_unknown: %s", usage.Model))
		}
		return 0
	}
	return float64(usage.PromptTokens)/1000*price.PromptRate +
		float64(usage.CompletionTokens)/1000*price.CompletionRate
}

// Snapshot aggregates the recorded calls. Totals always equal the sum over
// per-stage entries.
func (l *Ledger) Snapshot() models.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := models.LedgerSnapshot{
		PerStage: make([]models.StageCallRecord, 0, len(l.order)),
	}
	for _, stage := range l.order {
		rec := l.entries[stage]
		snap.PerStage = append(snap.PerStage, rec)
		snap.TotalPrompt += rec.PromptTokens
		snap.TotalCompletion += rec.CompletionTokens
		snap.TotalCostUSD += rec.CostUSD
	}
	snap.TotalTokens = snap.TotalPrompt + snap.TotalCompletion
	if len(l.warnings) > 0 {
		snap.Warnings = append([]string(nil), l.warnings...)
	}
	return snap
}
