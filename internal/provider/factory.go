package provider

import (
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// NewChain builds the dispatch chain from config: the orchestrator when its
// URL and key are both usable, then the webhook when its URL is. A backend
// with an unusable setting is left out with a warning, never an error. An
// empty chain is valid; every dispatch then ends in the canned failure reply.
func NewChain(cfg *config.Config, logger *slog.Logger) *FailoverChain {
	if logger == nil {
		logger = slog.Default()
	}
	var backends []domain.Backend

	if cfg.Primary.Configured() {
		timeout := time.Duration(cfg.Primary.TimeoutSeconds) * time.Second
		backends = append(backends, NewOrchestrator(OrchestratorConfig{
			APIBase: strings.TrimSpace(cfg.Primary.APIBase),
			APIKey:  cfg.Primary.APIKey,
			Channel: cfg.Primary.Channel,
			Timeout: timeout,
			Client:  SharedHTTPClient(timeout),
			Logger:  logger.With("backend", "orchestrator"),
		}))
	} else if cfg.Primary.APIBase != "" || cfg.Primary.APIKey != "" {
		logger.Warn("orchestrator misconfigured, primary dispatch disabled",
			"apiBase", cfg.Primary.APIBase, "apiKeySet", cfg.Primary.APIKey != "")
	} else {
		logger.Info("orchestrator not configured, primary dispatch disabled")
	}

	if cfg.Fallback.Configured() {
		timeout := time.Duration(cfg.Fallback.TimeoutSeconds) * time.Second
		username, password, ok := cfg.Fallback.BasicAuth()
		if !ok && (cfg.Fallback.Username != "" || cfg.Fallback.Password != "") {
			logger.Warn("webhook basic auth needs both username and password, sending without it")
		}
		backends = append(backends, NewWebhook(WebhookConfig{
			URL:      strings.TrimSpace(cfg.Fallback.WebhookURL),
			Username: username,
			Password: password,
			Timeout:  timeout,
			Client:   SharedHTTPClient(timeout),
			Logger:   logger.With("backend", "webhook"),
		}))
	} else if cfg.Fallback.WebhookURL != "" {
		logger.Warn("webhook URL is not an http(s) URL, fallback dispatch disabled", "url", cfg.Fallback.WebhookURL)
	} else {
		logger.Info("webhook not configured, fallback dispatch disabled")
	}

	if len(backends) == 0 {
		logger.Warn("no backend configured, every turn will receive the failure reply")
	}
	return NewFailoverChain(backends, logger)
}
