package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/agent"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/magiclink"
	"relaybot/internal/metrics"
	"relaybot/internal/provider"
	"relaybot/internal/session"
)

const metricsNamespace = "relaybot"

// engine is everything a dispatch needs, built once from config.
type engine struct {
	chain      *provider.FailoverChain
	sessions   domain.SessionStore
	metrics    *metrics.Relay
	dispatcher *agent.Dispatcher
}

func buildEngine(cfg *config.Config, logger *slog.Logger) (*engine, error) {
	sessions, err := session.Open(cfg.Sessions, logger)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	chain := provider.NewChain(cfg, logger)

	var m *metrics.Relay
	if cfg.Metrics.Enabled {
		m = metrics.NewRelay(metrics.NewCollector(metricsNamespace))
	}

	dispatcher := agent.NewDispatcher(agent.DispatcherConfig{
		Chain:                 chain,
		Sessions:              sessions,
		Links:                 newIssuer(cfg, logger),
		Prompt:                agent.NewPromptBuilder(cfg.Prompt.LoadingMessages, cfg.Prompt.Tips),
		Metrics:               m,
		Logger:                logger,
		DefaultOrganizationID: organizationID(cfg),
		TurnTimeout:           time.Duration(cfg.General.TurnTimeoutSeconds) * time.Second,
	})

	return &engine{
		chain:      chain,
		sessions:   sessions,
		metrics:    m,
		dispatcher: dispatcher,
	}, nil
}

func (e *engine) Close() error {
	return e.sessions.Close()
}

func newIssuer(cfg *config.Config, logger *slog.Logger) *magiclink.Issuer {
	return magiclink.NewIssuer(magiclink.Config{
		Domain: cfg.Link.Domain,
		Secret: cfg.Link.Secret,
		TTL:    time.Duration(cfg.Link.TTLMinutes) * time.Minute,
		Logger: logger,
	})
}

// organizationID is the org used when a turn carries no tenant id: the
// primary API's org first, then the link default.
func organizationID(cfg *config.Config) string {
	if id := strings.TrimSpace(cfg.Primary.OrganizationID); id != "" {
		return id
	}
	return cfg.Link.DefaultOrganizationID
}
