package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/provider"
	"relaybot/internal/session"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	logLevel   string // overridable via --log-level flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "relaybot",
		Short:   "relaybot: chat relay with API-first, webhook-fallback dispatch",
		Long:    "relaybot accepts chat turns over HTTP, forwards them to an orchestrator API with a workflow webhook as fallback, and answers with one normalized reply.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (.json, .yaml, .toml; default: ~/.relaybot/config.json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override general.logLevel (debug, info, warn, error)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(linkCmd())
	root.AddCommand(dispatchCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config and rebuilds the global logger from it. The
// returned func closes the log file, if any.
func loadConfig() (*config.Config, func() error, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.General.LogLevel = logLevel
	}
	l, closeLog := config.SetupLogger(cfg.General.LogLevel, config.ExpandPath(cfg.General.LogFile))
	logger = l.With("service", cfg.General.ServiceName)
	for _, note := range config.Degraded(cfg) {
		logger.Warn("capability disabled", "reason", note)
	}
	return cfg, closeLog, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config with a fresh link secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}

			cfg := config.Defaults()
			secret, err := randomSecret(32)
			if err != nil {
				return fmt.Errorf("generate link secret: %w", err)
			}
			cfg.Link.Secret = secret

			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Println("Set primary.apiBase/apiKey and/or fallback.webhookUrl, then run 'relaybot serve'.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP channel and dispatch engine",
		Long:  "Serves /api/messages, /api/health, /api/sessions and metrics. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if port > 0 {
				cfg.Server.Port = port
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")
	return cmd
}

func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	for name, herr := range eng.chain.Health(ctx) {
		if herr != nil {
			logger.Warn("backend unhealthy at startup", "backend", name, "err", herr)
		} else {
			logger.Info("backend ready", "backend", name)
		}
	}
	if !cfg.Link.Configured() {
		logger.Warn("link secret or domain not set; prompts will carry no integrations link")
	}

	go session.RunJanitor(ctx, eng.sessions, time.Duration(cfg.Sessions.SweepIntervalSeconds)*time.Second, logger)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	var limiter *channel.RateLimiter
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter = channel.NewRateLimiter(cfg.Server.RateLimitBurst, cfg.Server.RateLimitPerMinute)
	}

	httpCh := channel.NewHTTP(channel.HTTPConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		Secret:       cfg.Server.Secret,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		ServiceName:  cfg.General.ServiceName,
		Dispatcher:   eng.dispatcher,
		Backends:     eng.chain.Backends(),
		Sessions:     eng.sessions,
		Config:       cfg,
		Logger:       logger,
		RateLimiter:  limiter,
		Metrics:      eng.metrics,
		MetricsPath:  metricsPath,
	})

	logger.Info("relaybot started. Press Ctrl+C to stop.", "version", version, "backends", eng.chain.Name())
	if err := httpCh.Start(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured backends and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			chain := provider.NewChain(cfg, logger)
			fmt.Printf("config:   %s\n", resolveConfigPath())
			fmt.Printf("sessions: %s\n", cfg.Sessions.Backend)
			fmt.Printf("link:     %s\n", configuredLabel(cfg.Link.Configured()))
			if chain.Len() == 0 {
				fmt.Println("backends: none configured")
				return nil
			}
			health := chain.Health(ctx)
			for i, b := range chain.Backends() {
				state := "healthy"
				if herr := health[b.Name()]; herr != nil {
					state = "unhealthy: " + herr.Error()
				}
				fmt.Printf("backend %d: %-12s %s\n", i+1, b.Name(), state)
			}
			return nil
		},
	}
}

func configuredLabel(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func linkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <identity> [organizationID]",
		Short: "Issue an integrations deep link",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			orgID := organizationID(cfg)
			if len(args) == 2 {
				orgID = args[1]
			}
			link, err := newIssuer(cfg, logger).Issue(args[0], orgID)
			if err != nil {
				return err
			}
			fmt.Println(link)
			return nil
		},
	}
}

func dispatchCmd() *cobra.Command {
	var (
		conversationID string
		userID         string
		userName       string
		tenantID       string
		asJSON         bool
	)
	cmd := &cobra.Command{
		Use:   "dispatch <text>",
		Short: "Send one turn through the engine and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			eng, err := buildEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			turn := domain.Turn{
				ID:           "cli-" + time.Now().UTC().Format("20060102T150405"),
				Type:         "message",
				ChannelID:    "cli",
				Timestamp:    time.Now().UTC(),
				From:         domain.Account{ID: userID, Name: userName},
				Conversation: domain.Conversation{ID: conversationID, TenantID: tenantID},
				Text:         args[0],
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res := eng.dispatcher.DispatchNotify(ctx, turn, func(prompt string) {
				if !asJSON {
					fmt.Fprintln(os.Stderr, prompt)
					fmt.Fprintln(os.Stderr)
				}
			})
			if asJSON {
				data, _ := json.MarshalIndent(res, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			fmt.Println(res.Reply.Text)
			for _, a := range res.Reply.Attachments {
				fmt.Printf("[attachment] %s %s %s\n", a.ContentType, a.Name, a.ContentURL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "cli-conversation", "conversation id")
	cmd.Flags().StringVar(&userID, "user", "cli-user", "sender id")
	cmd.Flags().StringVar(&userName, "name", "", "sender display name (used as link identity)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant / organization id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full dispatch result as JSON")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. fallback.webhookUrl)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. sessions.backend sqlite)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				data, _ := json.Marshal(paths[k])
				fmt.Printf("%s = %s\n", k, data)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
