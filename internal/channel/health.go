package channel

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"relaybot/internal/provider"
)

const (
	healthHealthy  = "healthy"
	healthDegraded = "degraded"
)

type serviceStatus struct {
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Service   string         `json:"service"`
	Port      int            `json:"port"`
	Services  map[string]any `json:"services"`
}

// handleHealth probes the primary API and reports the webhook as configured
// or not. A failing primary marks the service degraded, never down.
func (h *HTTP) handleHealth(c echo.Context) error {
	resp := healthResponse{
		Status:    healthHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Service:   h.serviceName,
		Port:      h.port,
		Services: map[string]any{
			"bot": "operational",
			"orchestrator_api": serviceStatus{
				Status:  "not_configured",
				Message: "Orchestrator API credentials not provided",
			},
		},
	}

	for _, b := range h.backends {
		switch b := b.(type) {
		case *provider.Orchestrator:
			st := serviceStatus{Status: "connected", URL: b.URL()}
			if err := b.Healthy(c.Request().Context()); err != nil {
				st.Status = "disconnected"
				st.Error = err.Error()
				resp.Status = healthDegraded
				h.logger.Warn("health: orchestrator unreachable", "err", err)
			}
			resp.Services["orchestrator_api"] = st
		case *provider.Webhook:
			resp.Services["n8n_webhook"] = serviceStatus{Status: "configured", URL: b.URL()}
		}
	}

	return c.JSON(http.StatusOK, resp)
}
