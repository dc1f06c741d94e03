// Package planner is the per-turn orchestrator: it loads conversation
// context, drives the stage pipeline (rewrite, intent, reference
// resolution, data, ranking, evaluation, formatting), decides routing and
// cacheability, and persists the turn in one logical commit.
//
// State machine per turn:
//
//	LOAD → REWRITE → INTENT → (RESOLVE-REF?) → ROUTE-DECIDE →
//	{CLARIFY-STREAM | CACHE-PROBE → DATA → (RANK?) → (EVAL?) → FORMAT-STREAM} →
//	PERSIST → DONE
//
// Only CLARIFY-STREAM and a cache hit short-circuit to PERSIST. Every
// failure is classified to an error kind and surfaced as a Hebrew apology
// on the stream; the planner never leaks an unclassified error upward.
package planner

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ceci-ai/botchain/pkg/config"
	"github.com/ceci-ai/botchain/pkg/corpus"
	"github.com/ceci-ai/botchain/pkg/dispatch"
	"github.com/ceci-ai/botchain/pkg/ledger"
	"github.com/ceci-ai/botchain/pkg/models"
	"github.com/ceci-ai/botchain/pkg/respcache"
	"github.com/ceci-ai/botchain/pkg/stages"
	"github.com/ceci-ai/botchain/pkg/store"
)

// serviceName is reported in final-event metadata.
const serviceName = "botchain"

// defaultResultLimit applies when the user did not ask for an explicit
// number of results.
const defaultResultLimit = 10

// summaryLimit caps the system-turn text persisted per answer.
const summaryLimit = 200

// commitTimeout bounds the post-stream persistence writes. Persistence
// runs on a detached context: once the final event is on the wire the
// turn must be durable even if the client hangs up immediately after.
const commitTimeout = 5 * time.Second

// Emitter delivers stream events to the client, in emission order.
// An error means the client is gone; the turn aborts without persisting.
type Emitter interface {
	Emit(ev models.ChatEvent) error
}

// StageCaller is the dispatcher surface the planner needs. Tests stub it.
type StageCaller interface {
	Call(ctx context.Context, stage stages.Name, payload any, out any, led *ledger.Ledger) error
}

// CorpusExecutor is the data-stage surface the planner needs.
type CorpusExecutor interface {
	Execute(ctx context.Context, gen *stages.SQLGenResponse, hardCap int) (*corpus.Result, error)
	FetchByID(ctx context.Context, id string) (*models.ResultArtifact, error)
}

// TurnRequest is one user utterance handed to the planner.
type TurnRequest struct {
	ConvID          string
	Text            string
	TraceID         string
	IncludeMetadata bool
}

// Planner wires the pipeline components together. One instance serves all
// requests; all per-turn state lives in the turn struct.
type Planner struct {
	cfg     *config.Config
	store   *store.Store
	cache   *respcache.Cache // nil disables response caching
	caller  StageCaller
	corpus  CorpusExecutor
	scanner *RefScanner
	log     *slog.Logger
}

// New builds a planner from the composition root's components.
func New(cfg *config.Config, st *store.Store, cache *respcache.Cache, caller StageCaller, corp CorpusExecutor, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{
		cfg:     cfg,
		store:   st,
		cache:   cache,
		caller:  caller,
		corpus:  corp,
		scanner: NewRefScanner(cfg.References),
		log:     log,
	}
}

// turn is the mutable state of one request through the state machine.
type turn struct {
	req     TurnRequest
	emit    Emitter
	led     *ledger.Ledger
	log     *slog.Logger
	started time.Time
	deg     *store.DegradationFlag

	conv      *models.Conversation
	prevFrame models.EntityFrame

	clean      string
	intent     stages.IntentResponse
	effective  models.EntityFrame
	mode       store.UpdateMode
	resolvedID string
	scopeBreak bool

	bypassThisTurn bool
	nextBypass     bool
	cached         bool
	reasons        []string
}

// HandleTurn runs the per-turn algorithm. The returned error is non-nil
// only when the client connection failed mid-stream; every pipeline
// failure is converted to a final error event instead.
func (p *Planner) HandleTurn(ctx context.Context, req TurnRequest, emit Emitter) error {
	t := &turn{
		req:     req,
		emit:    emit,
		led:     ledger.New(req.TraceID, p.cfg.Models),
		log:     p.log.With("conv_id", req.ConvID, "trace_id", req.TraceID),
		started: time.Now(),
		deg:     &store.DegradationFlag{},
	}
	ctx = store.WithDegradationFlag(ctx, t.deg)

	runCtx, cancel := context.WithDeadline(ctx, t.started.Add(p.cfg.Pipeline.TotalDeadline.Std()))
	defer cancel()

	defer func() {
		snap := t.led.Snapshot()
		t.log.Info("Turn finished",
			"intent", string(t.intent.Intent),
			"cached", t.cached,
			"degraded", t.degraded(),
			"total_tokens", snap.TotalTokens,
			"total_cost_usd", snap.TotalCostUSD,
			"stages_called", len(snap.PerStage),
			"elapsed_ms", time.Since(t.started).Milliseconds())
	}()

	// Empty utterance: ask for clarification, touch no state.
	if strings.TrimSpace(req.Text) == "" {
		if err := t.progress(stages.Clarify); err != nil {
			return err
		}
		question := p.clarifyQuestion(runCtx, t, models.EntityFrame{}, []string{"utterance"})
		return t.finalAnswer(question)
	}

	release, err := p.store.Acquire(runCtx, req.ConvID)
	if err != nil {
		kind := errorKindOf(err)
		t.log.Warn("Conversation lock not acquired", "kind", kind, "error", err)
		return t.finalError(kind)
	}
	defer release()

	p.loadContext(runCtx, t)

	// Exact-repeat fast path: probe on the raw utterance before any LLM
	// stage runs, so a repeated cacheable question costs zero tokens.
	if served, err := p.probeRawCache(runCtx, t); served || err != nil {
		return err
	}

	if err := p.runRewrite(runCtx, t); err != nil {
		return t.finalError(errorKindOf(err))
	}
	if abort, err := p.runIntent(runCtx, t); abort {
		return err
	}

	// Analysis routes get the extended budget once the route is known.
	if t.intent.Intent == models.IntentAnalysis {
		cancel()
		runCtx, cancel = context.WithDeadline(ctx, t.started.Add(p.cfg.Pipeline.EvalDeadline.Std()))
		defer cancel()
	}

	hits, refAmbiguous := p.resolveRefs(t)
	p.updateFrame(t, hits)

	if missing, need := p.routeDecide(t, refAmbiguous); need {
		return p.runClarify(runCtx, t, missing)
	}

	return p.runDataRoute(runCtx, t)
}

// loadContext fetches the conversation, or starts fresh when none exists
// (or when the history is unreadable, which degrades rather than fails).
func (p *Planner) loadContext(ctx context.Context, t *turn) {
	conv, err := p.store.Load(ctx, t.req.ConvID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		conv = models.NewConversation(t.req.ConvID, time.Now())
	default:
		t.log.Warn("Conversation history unavailable, starting fresh", "error", err)
		t.reasons = append(t.reasons, "history_unavailable")
		conv = models.NewConversation(t.req.ConvID, time.Now())
	}
	t.conv = conv
	t.prevFrame = conv.Frame.Clone()
	t.bypassThisTurn = conv.CacheBypass
	t.nextBypass = conv.CacheBypass
	t.clean = t.req.Text
	t.effective = conv.Frame.Clone()
}

// probeRawCache serves an exact repeat of a cacheable utterance from the
// cache without spending any stage tokens. served=true means a final
// event went out (successfully or not).
func (p *Planner) probeRawCache(ctx context.Context, t *turn) (served bool, err error) {
	if t.bypassThisTurn || p.cache == nil || !p.cfg.Cache.CacheEnabled() {
		return false, nil
	}
	if t.conv.Frame.DecisionNumber != nil || !p.cacheableText(t.req.Text) {
		return false, nil
	}

	key := respcache.BuildKey(p.cfg.Pipeline.Version, t.req.Text, t.conv.Frame)
	entry, getErr := p.cache.Get(ctx, key)
	if getErr != nil {
		if !errors.Is(getErr, store.ErrNotFound) {
			t.log.Warn("Cache probe failed", "error", getErr)
		}
		return false, nil
	}
	if entry.PipelineVersion != p.cfg.Pipeline.Version || !cacheableIntent(entry.Intent) {
		return false, nil
	}

	t.cached = true
	t.intent.Intent = entry.Intent
	if err := t.finalAnswer(entry.Response); err != nil {
		return true, err
	}
	t.nextBypass = false
	p.commit(ctx, t, entry.Response, false, nil)
	return true, nil
}

// runRewrite normalizes the raw text. Failure soft-degrades to the raw
// text unless the whole request deadline is gone.
func (p *Planner) runRewrite(ctx context.Context, t *turn) error {
	if err := t.progress(stages.Rewrite); err != nil {
		return err
	}
	var resp stages.RewriteResponse
	err := p.caller.Call(ctx, stages.Rewrite, stages.RewriteRequest{
		Text:   t.req.Text,
		ConvID: t.req.ConvID,
	}, &resp, t.led)
	if err != nil {
		if dispatch.KindOf(err) == dispatch.KindDeadlineExceeded {
			return err
		}
		t.log.Warn("Rewrite failed, proceeding with raw text", "error", err)
		t.reasons = append(t.reasons, "rewrite_degraded")
		return nil
	}
	if clean := strings.TrimSpace(resp.CleanText); clean != "" {
		t.clean = clean
	}
	return nil
}

// runIntent classifies the clean text. Intent is a required stage: failure
// aborts the turn with an apology. abort=true means a final event went out
// (or the client is gone).
func (p *Planner) runIntent(ctx context.Context, t *turn) (abort bool, err error) {
	if err := t.progress(stages.Intent); err != nil {
		return true, err
	}
	callErr := p.caller.Call(ctx, stages.Intent, stages.IntentRequest{
		CleanText:     t.clean,
		ConvID:        t.req.ConvID,
		ContextDigest: contextDigest(t.conv, p.cfg.References.RecencyTurns),
	}, &t.intent, t.led)
	if callErr != nil {
		t.log.Error("Intent stage failed", "kind", errorKindOf(callErr), "error", callErr)
		return true, t.finalError(errorKindOf(callErr))
	}
	if !t.intent.Intent.Valid() {
		t.log.Error("Intent stage returned unknown intent", "intent", string(t.intent.Intent))
		return true, t.finalError(string(dispatch.KindStageMalformed))
	}

	// Low-confidence UNCLEAR short-circuits straight to clarification.
	if t.intent.Intent == models.IntentUnclear && t.intent.Confidence < 0.5 {
		return true, p.runClarify(ctx, t, []string{"intent"})
	}
	return false, nil
}

// resolveRefs scans for reference tokens and binds them against the last
// result set.
func (p *Planner) resolveRefs(t *turn) (hits []RefHit, ambiguous bool) {
	if !p.cfg.References.ResolutionEnabled() {
		return nil, false
	}
	hits = p.scanner.Scan(t.clean)
	if t.intent.Intent != models.IntentResultRef && len(hits) == 0 {
		return hits, false
	}

	id, ambig := resolveReference(hits, t.conv.LastResult)
	if ambig && len(hits) == 0 && t.intent.Intent == models.IntentResultRef {
		// The intent stage flagged a follow-up without a surface token;
		// bind the head when there is exactly one candidate.
		if ids := t.conv.LastResultIDs(); len(ids) == 1 {
			id, ambig = ids[0], false
		}
	}
	if ambig {
		return hits, true
	}
	t.resolvedID = id
	return hits, false
}

// updateFrame computes the effective entity frame for this turn: merge by
// default, replace on a scope break. A resolved reference enters the frame
// as decision-number.
func (p *Planner) updateFrame(t *turn, hits []RefHit) {
	delta := t.intent.Entities
	t.scopeBreak = p.isScopeBreak(t.clean, t.conv.Frame, delta, t.intent.Intent, hits)
	if t.scopeBreak {
		t.mode = store.ModeReplaceScope
		t.effective = delta.Clone()
	} else {
		t.mode = store.ModeMerge
		t.effective = t.conv.Frame.Clone()
		t.effective.Merge(delta)
	}
	if t.resolvedID != "" {
		if n, convErr := strconv.Atoi(t.resolvedID); convErr == nil {
			t.effective.DecisionNumber = &n
		}
	}
	// A scope break invalidates conversation-local cache assumptions for
	// one turn; the flag auto-clears at the next data route.
	t.nextBypass = t.scopeBreak
}

// routeDecide returns the missing slots when the turn must go to CLARIFY.
func (p *Planner) routeDecide(t *turn, refAmbiguous bool) (missing []string, need bool) {
	switch {
	case t.intent.Intent == models.IntentClarificationNeeded,
		t.intent.Intent == models.IntentUnclear,
		t.intent.RouteFlags.NeedsClarification:
		return []string{"intent"}, true
	case refAmbiguous:
		return []string{"reference_target"}, true
	}
	if slots := missingSlots(t.intent.Intent, t.effective, t.resolvedID); len(slots) > 0 {
		return slots, true
	}
	return nil, false
}

// runClarify streams a clarification question as the final answer and
// persists both turns. No entity or result-set updates, no cache write.
func (p *Planner) runClarify(ctx context.Context, t *turn, missing []string) error {
	if err := t.progress(stages.Clarify); err != nil {
		return err
	}
	question := p.clarifyQuestion(ctx, t, t.effective, missing)
	if err := t.finalAnswer(question); err != nil {
		return err
	}
	p.commit(ctx, t, question, false, nil)
	return nil
}

// clarifyQuestion invokes CLARIFY, falling back to a static question when
// the stage itself fails.
func (p *Planner) clarifyQuestion(ctx context.Context, t *turn, known models.EntityFrame, missing []string) string {
	var resp stages.ClarifyResponse
	err := p.caller.Call(ctx, stages.Clarify, stages.ClarifyRequest{
		KnownEntities: known,
		MissingSlots:  missing,
		ConvID:        t.req.ConvID,
	}, &resp, t.led)
	if err != nil || strings.TrimSpace(resp.Question) == "" {
		if err != nil {
			t.log.Warn("Clarify stage failed, using fallback question", "error", err)
		}
		t.reasons = append(t.reasons, "clarify_degraded")
		return fallbackClarifyQuestion
	}
	return resp.Question
}

// runDataRoute executes CACHE-PROBE → DATA → RANK? → EVAL? → FORMAT and
// persists the turn.
func (p *Planner) runDataRoute(ctx context.Context, t *turn) error {
	cacheEligible := p.cacheable(t.intent.Intent, t.clean, t.effective)

	if cacheEligible && !t.bypassThisTurn {
		key := respcache.BuildKey(p.cfg.Pipeline.Version, t.clean, t.effective)
		entry, err := p.cache.Get(ctx, key)
		if err == nil && entry.PipelineVersion == p.cfg.Pipeline.Version {
			t.cached = true
			if emitErr := t.finalAnswer(entry.Response); emitErr != nil {
				return emitErr
			}
			p.commit(ctx, t, entry.Response, true, nil)
			return nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			t.log.Warn("Cache probe failed", "error", err)
		}
	}

	result, abort, err := p.runData(ctx, t)
	if abort {
		return err
	}

	artifacts := result.Artifacts
	limit := p.declaredLimit(t)

	if abort, err := p.runRank(ctx, t, result, &artifacts, limit); abort {
		return err
	}

	analysis, abort, err := p.runEval(ctx, t, artifacts)
	if abort {
		return err
	}

	answer, abort, err := p.runFormat(ctx, t, result, artifacts, analysis)
	if abort {
		return err
	}

	if err := t.finalAnswer(answer); err != nil {
		return err
	}

	rs := p.resultSetUpdate(t, result, artifacts)
	p.commit(ctx, t, answer, true, rs)

	if cacheEligible {
		p.writeCache(ctx, t, answer)
	}
	return nil
}

// runData executes the data stage: a direct fetch when a reference
// resolved to one artifact, otherwise SQL-GEN followed by corpus execution.
func (p *Planner) runData(ctx context.Context, t *turn) (result *corpus.Result, abort bool, err error) {
	if t.resolvedID != "" {
		if err := t.progress(stages.SQLExec); err != nil {
			return nil, true, err
		}
		started := time.Now()
		artifact, fetchErr := p.corpus.FetchByID(ctx, t.resolvedID)
		t.led.Record(stages.SQLExec, models.TokenUsage{}, time.Since(started), execOutcome(fetchErr))
		if fetchErr != nil {
			kind := corpusErrorKind(ctx, fetchErr)
			t.log.Error("Artifact fetch failed", "artifact_id", t.resolvedID, "kind", kind, "error", fetchErr)
			return nil, true, t.finalError(kind)
		}
		result = &corpus.Result{}
		if artifact != nil {
			result.Artifacts = []models.ResultArtifact{*artifact}
			result.TotalCount = 1
		}
		return result, false, nil
	}

	if err := t.progress(stages.SQLGen); err != nil {
		return nil, true, err
	}
	var gen stages.SQLGenResponse
	if callErr := p.caller.Call(ctx, stages.SQLGen, stages.SQLGenRequest{
		Intent:   t.intent.Intent,
		Entities: t.effective,
		ConvID:   t.req.ConvID,
	}, &gen, t.led); callErr != nil {
		t.log.Error("SQL generation failed", "kind", errorKindOf(callErr), "error", callErr)
		return nil, true, t.finalError(errorKindOf(callErr))
	}

	if err := t.progress(stages.SQLExec); err != nil {
		return nil, true, err
	}
	started := time.Now()
	result, execErr := p.corpus.Execute(ctx, &gen, p.cfg.Pipeline.ResultHardCap)
	t.led.Record(stages.SQLExec, models.TokenUsage{}, time.Since(started), execOutcome(execErr))
	if execErr != nil {
		kind := corpusErrorKind(ctx, execErr)
		t.log.Error("Corpus query failed", "kind", kind, "error", execErr)
		return nil, true, t.finalError(kind)
	}
	return result, false, nil
}

// declaredLimit is the user's explicit limit, defaulted and capped.
func (p *Planner) declaredLimit(t *turn) int {
	limit := t.effective.Limit
	if limit <= 0 {
		limit = defaultResultLimit
	}
	if cap := p.cfg.Pipeline.ResultHardCap; cap > 0 && limit > cap {
		limit = cap
	}
	return limit
}

// runRank reorders and trims oversized listings. Rank failure soft-degrades
// to a local truncation.
func (p *Planner) runRank(ctx context.Context, t *turn, result *corpus.Result, artifacts *[]models.ResultArtifact, limit int) (abort bool, err error) {
	if result.IsCount || len(*artifacts) <= limit {
		return false, nil
	}
	if t.intent.Intent != models.IntentDataQuery && t.intent.Intent != models.IntentStatistical {
		*artifacts = (*artifacts)[:limit]
		return false, nil
	}

	if err := t.progress(stages.Rank); err != nil {
		return true, err
	}
	var resp stages.RankResponse
	callErr := p.caller.Call(ctx, stages.Rank, stages.RankRequest{
		Artifacts:     *artifacts,
		OriginalQuery: t.clean,
		Limit:         limit,
	}, &resp, t.led)
	if callErr != nil {
		if dispatch.KindOf(callErr) == dispatch.KindDeadlineExceeded {
			return true, t.finalError(string(dispatch.KindDeadlineExceeded))
		}
		t.log.Warn("Rank failed, truncating locally", "error", callErr)
		t.reasons = append(t.reasons, "rank_degraded")
		*artifacts = (*artifacts)[:limit]
		return false, nil
	}
	if len(resp.Ranked) > 0 {
		*artifacts = resp.Ranked
	}
	if len(*artifacts) > limit {
		*artifacts = (*artifacts)[:limit]
	}
	return false, nil
}

// runEval evaluates the single chosen artifact on analysis routes. Eval is
// required there: its narrative is the answer.
func (p *Planner) runEval(ctx context.Context, t *turn, artifacts []models.ResultArtifact) (analysis *stages.AnalysisContent, abort bool, err error) {
	if t.intent.Intent != models.IntentAnalysis || len(artifacts) == 0 {
		return nil, false, nil
	}
	if err := t.progress(stages.Eval); err != nil {
		return nil, true, err
	}
	var resp stages.EvalResponse
	callErr := p.caller.Call(ctx, stages.Eval, stages.EvalRequest{
		ArtifactID:    artifacts[0].ID,
		OriginalQuery: t.clean,
	}, &resp, t.led)
	if callErr != nil {
		t.log.Error("Evaluation failed", "kind", errorKindOf(callErr), "error", callErr)
		return nil, true, t.finalError(errorKindOf(callErr))
	}
	return &stages.AnalysisContent{Artifact: artifacts[0], Evaluation: resp}, false, nil
}

// runFormat renders the final answer. Format is required; the one soft
// spot is the empty-result template, which has a static fallback.
func (p *Planner) runFormat(ctx context.Context, t *turn, result *corpus.Result, artifacts []models.ResultArtifact, analysis *stages.AnalysisContent) (answer string, abort bool, err error) {
	if err := t.progress(stages.Format); err != nil {
		return "", true, err
	}

	req := stages.FormatRequest{
		OriginalQuery: t.clean,
		ConvID:        t.req.ConvID,
	}
	switch {
	case result.IsCount:
		req.DataType = stages.FormatDataCount
		req.Content = stages.CountContent{Count: result.Count}
		req.PresentationStyle = stages.StyleBrief
	case len(artifacts) == 0:
		req.DataType = stages.FormatDataEmpty
		req.PresentationStyle = stages.StyleBrief
	case analysis != nil:
		req.DataType = stages.FormatDataAnalysis
		req.Content = analysis
		req.PresentationStyle = stages.StyleDetailed
	case t.resolvedID != "":
		req.DataType = stages.FormatDataRankedRows
		req.Content = artifacts
		req.PresentationStyle = stages.StyleDetailed
	default:
		req.DataType = stages.FormatDataRankedRows
		req.Content = artifacts
		req.PresentationStyle = stages.StyleCard
	}

	var resp stages.FormatResponse
	callErr := p.caller.Call(ctx, stages.Format, req, &resp, t.led)
	if callErr != nil {
		if req.DataType == stages.FormatDataEmpty &&
			dispatch.KindOf(callErr) != dispatch.KindDeadlineExceeded {
			t.log.Warn("Format failed on empty result, using fallback", "error", callErr)
			t.reasons = append(t.reasons, "format_degraded")
			return emptyResultFallback, false, nil
		}
		t.log.Error("Format failed", "kind", errorKindOf(callErr), "error", callErr)
		return "", true, t.finalError(errorKindOf(callErr))
	}
	if strings.TrimSpace(resp.FormattedResponse) == "" {
		t.log.Error("Format returned empty response")
		return "", true, t.finalError(string(dispatch.KindStageMalformed))
	}
	return resp.FormattedResponse, false, nil
}

// resultSetUpdate applies the last-result rules: data-bearing turns record
// their ids; an empty result never clobbers a non-empty set unless the
// turn was a pure narrowing without a decision lookup.
func (p *Planner) resultSetUpdate(t *turn, result *corpus.Result, artifacts []models.ResultArtifact) *models.ResultSet {
	if result.IsCount {
		return nil
	}
	if ids := models.ArtifactIDs(artifacts); len(ids) > 0 {
		return &models.ResultSet{IDs: ids, Query: t.clean}
	}
	if t.conv.LastResult == nil || len(t.conv.LastResult.IDs) == 0 {
		return &models.ResultSet{Query: t.clean}
	}
	if t.effective.Extends(t.prevFrame) && t.effective.DecisionNumber == nil {
		return &models.ResultSet{Query: t.clean}
	}
	return nil
}

// commit persists the turn: both turns appended, the entity frame applied
// (when updateFrame), the last-result set replaced (when rs non-nil), and
// the bypass flag stored. Runs on a detached context; failures degrade to
// a log line because the answer is already on the wire.
func (p *Planner) commit(ctx context.Context, t *turn, answer string, updateFrame bool, rs *models.ResultSet) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	now := time.Now()
	t.conv.AppendTurn(models.Turn{
		ID:        uuid.NewString(),
		Speaker:   models.SpeakerUser,
		Text:      t.clean,
		Timestamp: now,
	}, p.store.MaxTurns())
	t.conv.AppendTurn(models.Turn{
		ID:        uuid.NewString(),
		Speaker:   models.SpeakerSystem,
		Text:      truncateRunes(answer, summaryLimit),
		Timestamp: now,
	}, p.store.MaxTurns())

	if updateFrame {
		t.conv.Frame = t.effective.Clone()
	}
	if rs != nil {
		t.conv.LastResult = rs
	}
	t.conv.CacheBypass = t.nextBypass

	if err := p.store.Save(cctx, t.conv); err != nil {
		t.log.Error("Turn persistence failed", "error", err)
	}
}

// writeCache stores the answer under both the clean-text key (shared
// across conversations) and the raw-text key (exact-repeat fast path).
func (p *Planner) writeCache(ctx context.Context, t *turn, answer string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	entry := respcache.Entry{
		Response:        answer,
		Intent:          t.intent.Intent,
		PipelineVersion: p.cfg.Pipeline.Version,
		OriginConvID:    t.req.ConvID,
		CreatedAt:       time.Now(),
	}
	cleanKey := respcache.BuildKey(p.cfg.Pipeline.Version, t.clean, t.effective)
	if err := p.cache.Put(cctx, cleanKey, entry); err != nil {
		t.log.Warn("Cache write failed", "error", err)
		return
	}
	if rawKey := respcache.BuildKey(p.cfg.Pipeline.Version, t.req.Text, t.effective); rawKey != cleanKey {
		if err := p.cache.Put(cctx, rawKey, entry); err != nil {
			t.log.Warn("Cache write failed", "error", err)
		}
	}
}

// progress emits a stage hint. An error means the client disconnected.
func (t *turn) progress(stage stages.Name) error {
	return t.emit.Emit(models.ChatEvent{
		Kind:    models.EventKindProgress,
		Stage:   string(stage),
		Message: stageProgress[stage],
	})
}

// finalAnswer emits the single final answer event.
func (t *turn) finalAnswer(response string) error {
	ev := models.ChatEvent{
		Kind:     models.EventKindAnswer,
		Final:    true,
		Response: response,
	}
	if t.req.IncludeMetadata {
		ev.Metadata = t.metadata("")
	}
	return t.emit.Emit(ev)
}

// finalError emits the single final event for a failed turn: a Hebrew
// apology plus the error kind. Nothing is persisted.
func (t *turn) finalError(kind string) error {
	ev := models.ChatEvent{
		Kind:     models.EventKindError,
		Final:    true,
		Response: apologyFor(kind),
	}
	if t.req.IncludeMetadata {
		ev.Metadata = t.metadata(kind)
	}
	return t.emit.Emit(ev)
}

// metadata assembles the final-event metadata block.
func (t *turn) metadata(errKind string) *models.ChatMetadata {
	snap := t.led.Snapshot()
	reasons := append([]string(nil), t.reasons...)
	if t.deg.Degraded() {
		reasons = append(reasons, "store_fallback")
	}
	return &models.ChatMetadata{
		Intent:           t.intent.Intent,
		Confidence:       t.intent.Confidence,
		ProcessingTimeMS: time.Since(t.started).Milliseconds(),
		Service:          serviceName,
		TokenUsage:       &snap,
		Cached:           t.cached,
		Degraded:         len(reasons) > 0,
		DegradedReasons:  reasons,
		ErrorKind:        errKind,
	}
}

// degraded reports whether anything fell back during the turn.
func (t *turn) degraded() bool {
	return len(t.reasons) > 0 || t.deg.Degraded()
}

// execOutcome maps a corpus error to a ledger outcome.
func execOutcome(err error) models.CallOutcome {
	if err == nil {
		return models.OutcomeOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.OutcomeTimeout
	}
	return models.OutcomeStageError
}

// corpusErrorKind classifies a corpus failure into the error taxonomy.
func corpusErrorKind(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return string(dispatch.KindDeadlineExceeded)
	}
	if errors.Is(err, corpus.ErrUnknownTemplate) {
		return string(dispatch.KindStageMalformed)
	}
	return string(dispatch.KindTransientUpstream)
}
