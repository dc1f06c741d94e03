package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceci-ai/botchain/pkg/config"
	"github.com/ceci-ai/botchain/pkg/models"
	"github.com/ceci-ai/botchain/pkg/planner"
	"github.com/ceci-ai/botchain/pkg/store"
)

// stubPlanner replays a scripted event stream and records the request.
type stubPlanner struct {
	events []models.ChatEvent
	gotReq planner.TurnRequest
	called int
}

func (s *stubPlanner) HandleTurn(_ context.Context, req planner.TurnRequest, emit planner.Emitter) error {
	s.called++
	s.gotReq = req
	for _, ev := range s.events {
		if err := emit.Emit(ev); err != nil {
			return err
		}
	}
	return nil
}

// deadBackend simulates a total store outage.
type deadBackend struct{}

func (deadBackend) Get(context.Context, string) ([]byte, error) {
	return nil, store.ErrBackendUnavailable
}
func (deadBackend) Set(context.Context, string, []byte, time.Duration) error {
	return store.ErrBackendUnavailable
}
func (deadBackend) Del(context.Context, string) error { return store.ErrBackendUnavailable }
func (deadBackend) TryLock(context.Context, string, time.Duration) (bool, error) {
	return false, store.ErrBackendUnavailable
}
func (deadBackend) Unlock(context.Context, string) error { return store.ErrBackendUnavailable }
func (deadBackend) Ping(context.Context) error           { return store.ErrBackendUnavailable }

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func testServerConfig() *config.Config {
	return &config.Config{
		Conversation: config.DefaultConversationConfig(),
		Pipeline:     config.DefaultPipelineConfig(),
		Cache:        config.DefaultCacheConfig(),
		References:   config.DefaultReferenceConfig(),
	}
}

func newTestServer(pl TurnPlanner, backend store.Backend, corpus Pinger) *Server {
	cfg := testServerConfig()
	if backend == nil {
		backend = store.NewMemoryBackend()
	}
	st := store.New(backend, nil, cfg.Conversation)
	return NewServer(cfg, pl, st, corpus, nil)
}

// decodeSSE parses a data-frame stream back into chat events.
func decodeSSE(t *testing.T, body string) []models.ChatEvent {
	t.Helper()
	var events []models.ChatEvent
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		require.True(t, strings.HasPrefix(frame, "data: "), "frame %q lacks the data prefix", frame)
		var ev models.ChatEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func postChat(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestChatHandler(t *testing.T) {
	t.Run("streams progress events and one final answer", func(t *testing.T) {
		pl := &stubPlanner{events: []models.ChatEvent{
			{Kind: models.EventKindProgress, Stage: "intent", Message: "מזהה כוונה"},
			{Kind: models.EventKindProgress, Stage: "format", Message: "מנסח תשובה"},
			{Kind: models.EventKindAnswer, Final: true, Response: "הנה התשובה"},
		}}
		s := newTestServer(pl, nil, nil)

		rec := postChat(t, s, `{"message":"החלטות בנושא חינוך","sessionId":"c1","includeMetadata":true}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
		assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))

		events := decodeSSE(t, rec.Body.String())
		require.Len(t, events, 3)
		assert.False(t, events[0].Final)
		assert.False(t, events[1].Final)
		assert.True(t, events[2].Final)
		assert.Equal(t, "הנה התשובה", events[2].Response)

		assert.Equal(t, "c1", pl.gotReq.ConvID)
		assert.Equal(t, "החלטות בנושא חינוך", pl.gotReq.Text)
		assert.True(t, pl.gotReq.IncludeMetadata)
		assert.Equal(t, rec.Header().Get("X-Trace-Id"), pl.gotReq.TraceID)
	})

	t.Run("missing sessionId is rejected", func(t *testing.T) {
		pl := &stubPlanner{}
		s := newTestServer(pl, nil, nil)

		rec := postChat(t, s, `{"message":"שאלה"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, pl.called)
	})

	t.Run("oversized message is rejected", func(t *testing.T) {
		pl := &stubPlanner{}
		s := newTestServer(pl, nil, nil)

		body, err := json.Marshal(models.ChatRequest{
			Message:   strings.Repeat("א", maxMessageLength+1),
			SessionID: "c1",
		})
		require.NoError(t, err)

		rec := postChat(t, s, string(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, pl.called)
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		s := newTestServer(&stubPlanner{}, nil, nil)
		rec := postChat(t, s, `{"message": truncated`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealthHandler(t *testing.T) {
	getHealth := func(t *testing.T, s *Server) (int, HealthResponse) {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return rec.Code, resp
	}

	t.Run("healthy with live dependencies", func(t *testing.T) {
		s := newTestServer(&stubPlanner{}, nil, stubPinger{})
		code, resp := getHealth(t, s)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, healthStatusHealthy, resp.Status)
		assert.NotEmpty(t, resp.Version)
	})

	t.Run("store outage degrades but stays up", func(t *testing.T) {
		s := newTestServer(&stubPlanner{}, deadBackend{}, stubPinger{})
		code, resp := getHealth(t, s)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, healthStatusDegraded, resp.Status)
		assert.Equal(t, healthStatusDegraded, resp.Checks["conversation_store"].Status)
	})

	t.Run("corpus outage is unhealthy", func(t *testing.T) {
		s := newTestServer(&stubPlanner{}, nil, stubPinger{err: errors.New("connection refused")})
		code, resp := getHealth(t, s)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, healthStatusUnhealthy, resp.Status)
		assert.Equal(t, healthStatusUnhealthy, resp.Checks["corpus_db"].Status)
	})
}

func TestDeleteConversationHandler(t *testing.T) {
	t.Run("clears the conversation", func(t *testing.T) {
		cfg := testServerConfig()
		st := store.New(store.NewMemoryBackend(), nil, cfg.Conversation)
		s := NewServer(cfg, &stubPlanner{}, st, nil, nil)

		require.NoError(t, st.Save(context.Background(), models.NewConversation("c1", time.Now())))

		req := httptest.NewRequest(http.MethodDelete, "/conversations/c1", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		_, err := st.Load(context.Background(), "c1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("store outage maps to 503", func(t *testing.T) {
		s := newTestServer(&stubPlanner{}, deadBackend{}, nil)

		req := httptest.NewRequest(http.MethodDelete, "/conversations/c1", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testServerConfig()
	st := store.New(store.NewMemoryBackend(), nil, cfg.Conversation)
	s := NewServer(cfg, &stubPlanner{}, st, nil, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(&stubPlanner{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
