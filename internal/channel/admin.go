package channel

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"relaybot/internal/config"
	"relaybot/internal/session"
)

// handleGetSession returns the last turn stored for a conversation.
func (h *HTTP) handleGetSession(c echo.Context) error {
	if h.sessions == nil {
		return jsonError(c, http.StatusServiceUnavailable, "session store disabled")
	}
	id := c.Param("id")
	sess, ok, err := h.sessions.Get(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("session lookup failed", "conversation", id, "err", err)
		return jsonError(c, http.StatusInternalServerError, "session lookup failed")
	}
	if !ok {
		return jsonError(c, http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, sess)
}

// handleClearSession drops a conversation's session, typically once the
// user finished the flow behind the integrations link.
func (h *HTTP) handleClearSession(c echo.Context) error {
	if h.sessions == nil {
		return jsonError(c, http.StatusServiceUnavailable, "session store disabled")
	}
	id := c.Param("id")
	if err := h.sessions.Clear(c.Request().Context(), id); err != nil {
		h.logger.Error("session clear failed", "conversation", id, "err", err)
		return jsonError(c, http.StatusInternalServerError, "session clear failed")
	}
	h.logger.Info("session cleared", "conversation", id)
	return c.NoContent(http.StatusNoContent)
}

// handleGetConfig returns the current config with secrets masked.
func (h *HTTP) handleGetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, config.Sanitize(h.cfg))
}

// handleMetrics refreshes the stored-sessions gauge and renders the collector.
func (h *HTTP) handleMetrics(c echo.Context) error {
	if counter, ok := h.sessions.(session.Counter); ok {
		n, err := counter.Count(c.Request().Context())
		if err != nil {
			h.logger.Warn("session count failed", "err", err)
		} else {
			h.metrics.SetStoredSessions(n)
		}
	}
	h.metrics.Collector().Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}
