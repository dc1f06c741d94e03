// Package dispatch is the uniform RPC client to pipeline stages: JSON over
// HTTP POST with per-stage timeout, bounded exponential-backoff retry, a
// per-stage circuit breaker, structured error classification, and token
// usage extraction into the request ledger.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/ceci-ai/botchain/pkg/config"
	"github.com/ceci-ai/botchain/pkg/ledger"
	"github.com/ceci-ai/botchain/pkg/models"
	"github.com/ceci-ai/botchain/pkg/stages"
)

// maxResponseBytes bounds how much of a stage response is read. Stages
// return formatted text and ranked rows, never bulk data.
const maxResponseBytes = 4 << 20

// usageEnvelope extracts only the token usage block from a stage response.
type usageEnvelope struct {
	TokenUsage *models.TokenUsage `json:"token_usage"`
}

// Dispatcher issues stage calls. One instance is shared by all requests;
// the connection pool, semaphores, and breakers are per-stage.
type Dispatcher struct {
	client   *http.Client
	configs  map[stages.Name]*config.StageConfig
	breakers map[stages.Name]*gobreaker.CircuitBreaker
	sems     map[stages.Name]*semaphore.Weighted
	metrics  *Metrics
}

// New creates a dispatcher for the configured stages.
func New(configs map[stages.Name]*config.StageConfig, metrics *Metrics) *Dispatcher {
	d := &Dispatcher{
		client: &http.Client{
			// Per-attempt deadlines come from the request context; the
			// client itself stays unbounded.
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		configs:  configs,
		breakers: make(map[stages.Name]*gobreaker.CircuitBreaker),
		sems:     make(map[stages.Name]*semaphore.Weighted),
		metrics:  metrics,
	}
	for name, sc := range configs {
		d.sems[name] = semaphore.NewWeighted(int64(sc.MaxConcurrent))
		d.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    string(name),
			Timeout: 15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(bName string, from, to gobreaker.State) {
				slog.Warn("Stage circuit breaker state change",
					"stage", bName, "from", from.String(), "to", to.String())
			},
		})
	}
	return d
}

// Call invokes one stage with payload, decodes the response into out, and
// records token usage on led. Errors are always *StageError.
func (d *Dispatcher) Call(ctx context.Context, stage stages.Name, payload any, out any, led *ledger.Ledger) error {
	sc, ok := d.configs[stage]
	if !ok {
		return &StageError{Stage: stage, Kind: KindStageRefused,
			Err: fmt.Errorf("stage not configured")}
	}

	sem := d.sems[stage]
	if err := sem.Acquire(ctx, 1); err != nil {
		return d.classifyCtx(stage, err)
	}
	defer sem.Release(1)

	body, err := json.Marshal(payload)
	if err != nil {
		return &StageError{Stage: stage, Kind: KindStageMalformed,
			Err: fmt.Errorf("encode request: %w", err)}
	}

	started := time.Now()
	usage, callErr := d.callWithRetry(ctx, stage, sc, body, out)
	elapsed := time.Since(started)

	outcome := models.OutcomeOK
	if callErr != nil {
		outcome = outcomeFor(KindOf(callErr))
	}
	if led != nil {
		led.Record(stage, usage, elapsed, outcome)
	}
	if d.metrics != nil {
		d.metrics.Calls.WithLabelValues(string(stage), string(outcome)).Inc()
		d.metrics.Latency.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	}
	return callErr
}

// callWithRetry runs the bounded retry loop around single attempts.
func (d *Dispatcher) callWithRetry(ctx context.Context, stage stages.Name, sc *config.StageConfig, body []byte, out any) (models.TokenUsage, error) {
	var usage models.TokenUsage

	policy := backoff.WithContext(backoff.WithMaxRetries(
		newExpBackoff(sc), uint64(sc.MaxRetries)), ctx)

	attempt := func() error {
		result, err := d.breakers[stage].Execute(func() (any, error) {
			return d.attempt(ctx, stage, sc, body, out)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				// Breaker open: fail fast, no point retrying this request.
				return backoff.Permanent(&StageError{Stage: stage,
					Kind: KindTransientUpstream, Err: err})
			}
			var se *StageError
			if errors.As(err, &se) && se.Kind != KindTransientUpstream {
				return backoff.Permanent(err)
			}
			return err
		}
		usage = result.(models.TokenUsage)
		return nil
	}

	if err := backoff.Retry(attempt, policy); err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return usage, se
		}
		return usage, d.classifyCtx(stage, err)
	}
	return usage, nil
}

// attempt performs one HTTP round trip and classifies its outcome.
func (d *Dispatcher) attempt(ctx context.Context, stage stages.Name, sc *config.StageConfig, body []byte, out any) (models.TokenUsage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, sc.Timeout.Std())
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, sc.Endpoint, bytes.NewReader(body))
	if err != nil {
		return models.TokenUsage{}, &StageError{Stage: stage, Kind: KindStageRefused, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		// Parent deadline beats per-attempt timeout in classification.
		if ctx.Err() != nil {
			return models.TokenUsage{}, d.classifyCtx(stage, ctx.Err())
		}
		return models.TokenUsage{}, &StageError{Stage: stage, Kind: KindTransientUpstream, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return models.TokenUsage{}, d.classifyCtx(stage, ctx.Err())
		}
		return models.TokenUsage{}, &StageError{Stage: stage, Kind: KindTransientUpstream, Err: err}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return models.TokenUsage{}, &StageError{Stage: stage, Kind: KindTransientUpstream,
			Status: resp.StatusCode, Err: fmt.Errorf("upstream status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return models.TokenUsage{}, &StageError{Stage: stage, Kind: KindStageRefused,
			Status: resp.StatusCode, Err: fmt.Errorf("bad_request_to_stage: status %d", resp.StatusCode)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return models.TokenUsage{}, &StageError{Stage: stage, Kind: KindStageMalformed,
				Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}

	var env usageEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.TokenUsage != nil {
		usage := *env.TokenUsage
		if usage.TotalTokens == 0 {
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		return usage, nil
	}
	// Absent usage block means the ledger records zero.
	return models.TokenUsage{}, nil
}

// classifyCtx maps a context error to the taxonomy.
func (d *Dispatcher) classifyCtx(stage stages.Name, err error) *StageError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &StageError{Stage: stage, Kind: KindDeadlineExceeded, Err: err}
	}
	return &StageError{Stage: stage, Kind: KindTransientUpstream, Err: err}
}

// newExpBackoff builds the retry policy for one stage.
func newExpBackoff(sc *config.StageConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = sc.RetryBackoff.Std()
	b.MaxInterval = sc.BackoffCeiling.Std()
	b.MaxElapsedTime = 0 // bounded by MaxRetries and the request deadline
	return b
}

// outcomeFor maps an error kind to a ledger outcome.
func outcomeFor(kind ErrorKind) models.CallOutcome {
	switch kind {
	case KindDeadlineExceeded:
		return models.OutcomeTimeout
	case KindStageMalformed:
		return models.OutcomeMalformed
	default:
		return models.OutcomeStageError
	}
}
