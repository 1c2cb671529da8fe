package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
	"relaybot/internal/provider"
	"relaybot/internal/session"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your relaybot setup",
		Long: `Verifies that relaybot's configuration, backends, session store and
port are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("relaybot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report

			// 1. Config file exists (defaults + env still work without one)
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults and environment", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")
			for _, note := range config.Degraded(cfg) {
				r.warn("Config", note)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			// 3. Backends
			chain := provider.NewChain(cfg, logger)
			if chain.Len() == 0 {
				r.fail("Backends", "neither primary.apiBase+apiKey nor fallback.webhookUrl is set")
			}
			health := chain.Health(ctx)
			for _, b := range chain.Backends() {
				if herr := health[b.Name()]; herr != nil {
					r.warn("Backend: "+b.Name(), herr.Error())
				} else {
					r.pass("Backend: "+b.Name(), "ok")
				}
			}

			// 4. Link issuance
			if _, err := newIssuer(cfg, logger).Issue("doctor@relaybot", organizationID(cfg)); err != nil {
				r.warn("Integrations link", err.Error())
			} else {
				r.pass("Integrations link", cfg.Link.Domain)
			}

			// 5. Session store opens
			store, err := session.Open(cfg.Sessions, logger)
			if err != nil {
				r.fail("Session store", err.Error())
			} else {
				store.Close()
				r.pass("Session store", cfg.Sessions.Backend)
			}

			// 6. Port
			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				r.warn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				r.pass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				dir := filepath.Dir(config.ExpandPath(cfg.General.LogFile))
				if err := os.MkdirAll(dir, 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return r.summary()
		},
	}
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running relaybot.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nrelaybot should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! relaybot is ready to run.\n")
	}
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
