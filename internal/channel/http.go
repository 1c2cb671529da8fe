// Package channel is the inbound HTTP surface: it accepts turns, answers
// them through the dispatcher and exposes health, session and metrics
// endpoints.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"relaybot/internal/agent"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const defaultMaxBodyBytes = 1 << 20 // 1MB

// Dispatcher answers one turn. *agent.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, turn domain.Turn) agent.Result
}

type HTTPConfig struct {
	Host         string
	Port         int
	Secret       string // HMAC secret for X-Signature-256; empty disables the check
	MaxBodyBytes int64
	ServiceName  string

	Dispatcher Dispatcher
	Backends   []domain.Backend    // chain members, for /api/health
	Sessions   domain.SessionStore // optional
	Config     *config.Config      // optional; enables /api/config when Secret is set
	Logger     *slog.Logger

	// RateLimiter throttles turns per sender; nil disables throttling.
	RateLimiter *RateLimiter

	// Metrics is served as Prometheus text at MetricsPath; either unset
	// disables the endpoint.
	Metrics     *metrics.Relay
	MetricsPath string
}

// HTTP serves the relay API on one port.
type HTTP struct {
	addr        string
	port        int
	secret      string
	maxBody     int64
	serviceName string

	dispatcher Dispatcher
	backends   []domain.Backend
	sessions   domain.SessionStore
	limiter    *RateLimiter
	metrics    *metrics.Relay
	metricsAt  string
	logger     *slog.Logger

	cfg  *config.Config
	echo *echo.Echo
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Port == 0 {
		cfg.Port = config.DefaultPort
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = config.DefaultServiceName
	}

	h := &HTTP{
		addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		port:        cfg.Port,
		secret:      cfg.Secret,
		maxBody:     cfg.MaxBodyBytes,
		serviceName: cfg.ServiceName,
		dispatcher:  cfg.Dispatcher,
		backends:    cfg.Backends,
		sessions:    cfg.Sessions,
		limiter:     cfg.RateLimiter,
		metrics:     cfg.Metrics,
		metricsAt:   cfg.MetricsPath,
		logger:      cfg.Logger,
		cfg:         cfg.Config,
	}
	h.echo = h.routes()
	return h
}

func (h *HTTP) Name() string { return "http" }

// Handler exposes the router, mainly for tests.
func (h *HTTP) Handler() http.Handler { return h.echo }

func (h *HTTP) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &turnValidator{v: validator.New()}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				h.logger.Warn("http request failed", append(attrs, "err", v.Error)...)
				return nil
			}
			h.logger.Debug("http request", attrs...)
			return nil
		},
	}))

	e.GET("/api/health", h.handleHealth)
	if h.metrics != nil && h.metricsAt != "" {
		e.GET(h.metricsAt, h.handleMetrics)
	}

	signed := e.Group("/api", h.requireSignature)
	signed.POST("/messages", h.handleMessages)
	// Admin routes expose stored turns and config, so they exist only when
	// requests are signed.
	if h.secret != "" {
		signed.GET("/sessions/:id", h.handleGetSession)
		signed.DELETE("/sessions/:id", h.handleClearSession)
		if h.cfg != nil {
			signed.GET("/config", h.handleGetConfig)
		}
	}
	return e
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (h *HTTP) Start(ctx context.Context) error {
	h.echo.Server.ReadHeaderTimeout = 10 * time.Second
	h.echo.Server.IdleTimeout = 120 * time.Second
	h.echo.Server.MaxHeaderBytes = 1 << 20

	h.logger.Info("http channel starting", "addr", h.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := h.echo.Start(h.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("http channel shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return h.echo.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http channel: %w", err)
	}
}

func (h *HTTP) Stop() error {
	return h.echo.Close()
}

type turnValidator struct {
	v *validator.Validate
}

func (tv *turnValidator) Validate(i any) error {
	return tv.v.Struct(i)
}

func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}
