package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/ceci-ai/botchain/pkg/models"
	"github.com/ceci-ai/botchain/pkg/planner"
)

// maxMessageLength bounds a single chat message.
const maxMessageLength = 10_000

// chatHandler handles POST /chat: it validates the request, switches the
// response to a server-sent event stream, and runs the planner with an
// emitter bound to the connection. The stream carries progress events and
// terminates with exactly one final event unless the client disconnects.
func (s *Server) chatHandler(c *echo.Context) error {
	var req models.ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sessionId is required")
	}
	if len(req.Message) > maxMessageLength {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("message exceeds maximum length of %d characters", maxMessageLength))
	}

	traceID := uuid.NewString()

	resp := c.Response()
	h := resp.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Trace-Id", traceID)
	resp.WriteHeader(http.StatusOK)

	em := newSSEEmitter(resp)
	err := s.planner.HandleTurn(c.Request().Context(), planner.TurnRequest{
		ConvID:          req.SessionID,
		Text:            req.Message,
		TraceID:         traceID,
		IncludeMetadata: req.IncludeMetadata,
	}, em)
	if err != nil {
		// Emission failed mid-stream; the client is gone. Nothing from the
		// turn was persisted.
		slog.Info("Chat stream aborted by client",
			"conv_id", req.SessionID, "trace_id", traceID, "error", err)
	}
	return nil
}

// sseEmitter writes chat events as SSE data frames, flushing each one so
// progress reaches the client while later stages run.
type sseEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEEmitter(w http.ResponseWriter) *sseEmitter {
	em := &sseEmitter{w: w}
	em.flusher, _ = any(w).(http.Flusher)
	return em
}

// Emit implements planner.Emitter.
func (e *sseEmitter) Emit(ev models.ChatEvent) error {
	buf, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode chat event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", buf); err != nil {
		return fmt.Errorf("write chat event: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
