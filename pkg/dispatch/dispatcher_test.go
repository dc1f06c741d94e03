package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceci-ai/botchain/pkg/config"
	"github.com/ceci-ai/botchain/pkg/ledger"
	"github.com/ceci-ai/botchain/pkg/stages"
)

func stageConfigs(endpoint string, maxRetries int) map[stages.Name]*config.StageConfig {
	return map[stages.Name]*config.StageConfig{
		stages.Intent: {
			Endpoint:       endpoint,
			Timeout:        config.Duration(2 * time.Second),
			MaxRetries:     maxRetries,
			RetryBackoff:   config.Duration(5 * time.Millisecond),
			BackoffCeiling: config.Duration(20 * time.Millisecond),
			MaxConcurrent:  4,
		},
	}
}

type echoPayload struct {
	CleanText string `json:"clean_text"`
}

func TestDispatcher_Call(t *testing.T) {
	t.Run("decodes result and records token usage", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var in echoPayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			_ = json.NewEncoder(w).Encode(map[string]any{
				"intent":     "DATA_QUERY",
				"confidence": 0.9,
				"token_usage": map[string]any{
					"prompt_tokens":     120,
					"completion_tokens": 30,
					"model":             "gpt-4o",
				},
			})
		}))
		defer srv.Close()

		d := New(stageConfigs(srv.URL, 2), nil)
		led := ledger.New("req-1", config.DefaultModelPrices())

		var out stages.IntentResponse
		err := d.Call(context.Background(), stages.Intent, echoPayload{CleanText: "hi"}, &out, led)
		require.NoError(t, err)
		assert.Equal(t, 0.9, out.Confidence)

		snap := led.Snapshot()
		require.Len(t, snap.PerStage, 1)
		assert.Equal(t, 120, snap.TotalPrompt)
		assert.Equal(t, 30, snap.TotalCompletion)
		// total_tokens absent in the response, derived from the parts
		assert.Equal(t, 150, snap.TotalTokens)
	})

	t.Run("absent usage block records zero", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"intent":"UNCLEAR","confidence":0.2}`))
		}))
		defer srv.Close()

		d := New(stageConfigs(srv.URL, 0), nil)
		led := ledger.New("req-2", nil)

		var out stages.IntentResponse
		require.NoError(t, d.Call(context.Background(), stages.Intent, nil, &out, led))
		assert.Zero(t, led.Snapshot().TotalTokens)
	})

	t.Run("retries transient 5xx then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"intent":"DATA_QUERY","confidence":1}`))
		}))
		defer srv.Close()

		d := New(stageConfigs(srv.URL, 2), nil)
		var out stages.IntentResponse
		err := d.Call(context.Background(), stages.Intent, nil, &out, nil)
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("4xx fails fast without retry", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		d := New(stageConfigs(srv.URL, 3), nil)
		err := d.Call(context.Background(), stages.Intent, nil, nil, nil)
		require.Error(t, err)
		assert.Equal(t, KindStageRefused, KindOf(err))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("unparsable 2xx body is malformed, not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte(`{"intent": truncated`))
		}))
		defer srv.Close()

		d := New(stageConfigs(srv.URL, 3), nil)
		var out stages.IntentResponse
		err := d.Call(context.Background(), stages.Intent, nil, &out, nil)
		require.Error(t, err)
		assert.Equal(t, KindStageMalformed, KindOf(err))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("exhausted retries surface transient kind", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		d := New(stageConfigs(srv.URL, 2), nil)
		err := d.Call(context.Background(), stages.Intent, nil, nil, nil)
		require.Error(t, err)
		assert.Equal(t, KindTransientUpstream, KindOf(err))
		assert.Equal(t, int32(3), calls.Load()) // initial + 2 retries
	})

	t.Run("parent deadline classifies as deadline_exceeded", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
		}))
		defer srv.Close()

		d := New(stageConfigs(srv.URL, 2), nil)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		err := d.Call(ctx, stages.Intent, nil, nil, nil)
		require.Error(t, err)
		assert.Equal(t, KindDeadlineExceeded, KindOf(err))
	})

	t.Run("unconfigured stage is refused", func(t *testing.T) {
		d := New(stageConfigs("http://localhost:1", 0), nil)
		err := d.Call(context.Background(), stages.Format, nil, nil, nil)
		require.Error(t, err)
		assert.Equal(t, KindStageRefused, KindOf(err))
	})

	t.Run("breaker opens after consecutive failures", func(t *testing.T) {
		var healthy atomic.Bool
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if !healthy.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(`{"intent":"DATA_QUERY","confidence":1}`))
		}))
		defer srv.Close()

		d := New(stageConfigs(srv.URL, 0), nil)
		for i := 0; i < 5; i++ {
			_ = d.Call(context.Background(), stages.Intent, nil, nil, nil)
		}

		// The upstream recovers, but the open breaker fails fast without
		// touching it.
		healthy.Store(true)
		before := calls.Load()
		err := d.Call(context.Background(), stages.Intent, nil, nil, nil)
		require.Error(t, err)
		assert.Equal(t, KindTransientUpstream, KindOf(err))
		assert.Equal(t, before, calls.Load())
	})
}

func TestLedgerOutcomeMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := New(stageConfigs(srv.URL, 0), nil)
	led := ledger.New("req-3", nil)

	err := d.Call(context.Background(), stages.Intent, nil, nil, led)
	require.Error(t, err)

	snap := led.Snapshot()
	require.Len(t, snap.PerStage, 1)
	assert.Equal(t, string(stages.Intent), snap.PerStage[0].Stage)
	assert.NotEqual(t, "ok", string(snap.PerStage[0].Outcome))
}
