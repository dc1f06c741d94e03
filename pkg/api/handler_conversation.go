package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/ceci-ai/botchain/pkg/store"
)

// deleteConversationHandler handles DELETE /conversations/:id, the explicit
// reset: history, entity frame, and last-result state are dropped together.
func (s *Server) deleteConversationHandler(c *echo.Context) error {
	convID := c.Param("id")
	if convID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	if err := s.store.Clear(c.Request().Context(), convID); err != nil {
		if errors.Is(err, store.ErrBackendUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "conversation store unavailable")
		}
		slog.Error("Conversation reset failed", "conv_id", convID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.NoContent(http.StatusNoContent)
}
