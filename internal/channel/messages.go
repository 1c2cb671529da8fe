package channel

import (
	"bytes"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"relaybot/internal/agent"
	"relaybot/internal/domain"
)

const activityMessage = "message"

// messageResponse is what POST /api/messages answers with. The caller sends
// Prompt first and Reply once it is available.
type messageResponse struct {
	ID      string                 `json:"id"`
	Prompt  string                 `json:"prompt"`
	Reply   domain.NormalizedReply `json:"reply"`
	Link    string                 `json:"link,omitempty"`
	Backend string                 `json:"backend,omitempty"`
	State   agent.State            `json:"state"`
	Soft    bool                   `json:"soft,omitempty"`
}

func (h *HTTP) handleMessages(c echo.Context) error {
	if h.dispatcher == nil {
		return jsonError(c, http.StatusServiceUnavailable, "dispatcher not ready")
	}

	req := c.Request()
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "read body: "+err.Error())
	}
	req.Body = io.NopCloser(bytes.NewReader(raw))

	var turn domain.Turn
	if err := c.Bind(&turn); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid turn: "+err.Error())
	}
	turn.Raw = raw
	if err := c.Validate(&turn); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid turn: "+err.Error())
	}

	// Non-message activities (typing, conversation updates) get no reply.
	if turn.Type != "" && turn.Type != activityMessage {
		h.logger.Debug("ignoring activity", "type", turn.Type, "conversation", turn.ConversationID())
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored", "type": turn.Type})
	}

	if h.limiter != nil && !h.limiter.Allow(turn.From.ID) {
		h.logger.Warn("turn throttled", "from", turn.From.ID, "conversation", turn.ConversationID())
		return jsonError(c, http.StatusTooManyRequests, "too many messages, slow down")
	}

	h.logger.Info("turn received",
		"conversation", turn.ConversationID(),
		"from", turn.From.ID,
		"text_len", len(turn.Text),
		"attachments", len(turn.Attachments),
	)

	res := h.dispatcher.Dispatch(c.Request().Context(), turn)
	return c.JSON(http.StatusOK, messageResponse{
		ID:      res.ID,
		Prompt:  res.Prompt,
		Reply:   res.Reply,
		Link:    res.Link.URL,
		Backend: res.Backend,
		State:   res.State,
		Soft:    res.Soft,
	})
}
