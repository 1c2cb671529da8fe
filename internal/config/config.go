package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for relaybot.
// TOML keys are matched case-insensitively against field names.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Primary  PrimaryConfig  `json:"primary" yaml:"primary"`
	Fallback FallbackConfig `json:"fallback" yaml:"fallback"`
	Link     LinkConfig     `json:"link" yaml:"link"`
	Sessions SessionsConfig `json:"sessions" yaml:"sessions"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Prompt   PromptConfig   `json:"prompt" yaml:"prompt"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	ServiceName        string `json:"serviceName" yaml:"serviceName"`
	LogLevel           string `json:"logLevel" yaml:"logLevel"`
	LogFile            string `json:"logFile,omitempty" yaml:"logFile,omitempty"`   // optional JSON log file
	TurnTimeoutSeconds int    `json:"turnTimeoutSeconds" yaml:"turnTimeoutSeconds"` // 0 = no per-turn deadline
}

// PrimaryConfig configures the structured orchestrator API.
type PrimaryConfig struct {
	APIBase        string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	OrganizationID string `json:"organizationId,omitempty" yaml:"organizationId,omitempty"`
	Channel        string `json:"channel" yaml:"channel"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// Configured reports whether the base URL is a usable http(s) URL and the
// key is present.
func (p PrimaryConfig) Configured() bool {
	return isHTTPURL(p.APIBase) && strings.TrimSpace(p.APIKey) != ""
}

// FallbackConfig configures the n8n-style webhook backend.
type FallbackConfig struct {
	WebhookURL     string `json:"webhookUrl,omitempty" yaml:"webhookUrl,omitempty"`
	Username       string `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string `json:"password,omitempty" yaml:"password,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

func (f FallbackConfig) Configured() bool { return isHTTPURL(f.WebhookURL) }

// BasicAuth returns the webhook credentials; ok is false unless both are set.
func (f FallbackConfig) BasicAuth() (username, password string, ok bool) {
	if f.Username == "" || f.Password == "" {
		return "", "", false
	}
	return f.Username, f.Password, true
}

// LinkConfig configures deep-link issuance.
type LinkConfig struct {
	Domain                string `json:"domain" yaml:"domain"`
	Secret                string `json:"secret,omitempty" yaml:"secret,omitempty"`
	TTLMinutes            int    `json:"ttlMinutes" yaml:"ttlMinutes"`
	DefaultOrganizationID string `json:"defaultOrganizationId" yaml:"defaultOrganizationId"`
}

func (l LinkConfig) Configured() bool {
	return isHTTPURL(l.Domain) && l.Secret != ""
}

type SessionsConfig struct {
	Backend              string      `json:"backend" yaml:"backend"`       // "memory" | "sqlite" | "redis"
	TTLMinutes           int         `json:"ttlMinutes" yaml:"ttlMinutes"` // 0 = never expire
	MaxEntries           int         `json:"maxEntries" yaml:"maxEntries"` // memory backend only; 0 = unbounded
	SweepIntervalSeconds int         `json:"sweepIntervalSeconds" yaml:"sweepIntervalSeconds"`
	DBPath               string      `json:"dbPath" yaml:"dbPath"`
	Redis                RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	Secret       string `json:"secret,omitempty" yaml:"secret,omitempty"` // HMAC secret for inbound turns
	MaxBodyBytes int64  `json:"maxBodyBytes" yaml:"maxBodyBytes"`

	// Per-sender throttling of inbound turns; RateLimitPerMinute 0 disables it.
	RateLimitPerMinute float64 `json:"rateLimitPerMinute" yaml:"rateLimitPerMinute"`
	RateLimitBurst     int     `json:"rateLimitBurst" yaml:"rateLimitBurst"`
}

// PromptConfig holds the copy used for the interim "working on it" prompt.
type PromptConfig struct {
	LoadingMessages []string `json:"loadingMessages" yaml:"loadingMessages"`
	Tips            []string `json:"tips" yaml:"tips"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file (.json, .yaml/.yml or .toml), expands ${VAR}
// references, applies environment overrides and validates the result.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		data = []byte(ExpandEnvVars(string(data)))
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// environment-only deployment
	default:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	ApplyEnv(cfg)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Sessions.DBPath = ExpandPath(cfg.Sessions.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return json.Unmarshal(data, cfg)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} yields "default" when VAR is unset or empty; an unset VAR
// without default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		if val, ok := os.LookupEnv(groups[1]); ok && val != "" {
			return val
		}
		if len(groups) >= 3 && groups[2] != "" {
			return groups[2]
		}
		return match
	})
}

// ApplyEnv overlays the deployment environment variables on cfg. Only
// non-empty variables override file values.
func ApplyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Primary.APIBase, "ORCHESTRATOR_API_URL")
	setString(&cfg.Primary.APIKey, "ORCHESTRATOR_API_KEY")
	setString(&cfg.Primary.OrganizationID, "ORCHESTRATOR_ORG_ID")
	setString(&cfg.Fallback.WebhookURL, "WORKOFLOW_N8N_WEBHOOK_URL")
	setString(&cfg.Fallback.Username, "N8N_BASIC_AUTH_USERNAME")
	setString(&cfg.Fallback.Password, "N8N_BASIC_AUTH_PASSWORD")
	setString(&cfg.Link.Domain, "MAGIC_LINK_DOMAIN")
	setString(&cfg.Link.Secret, "MAGIC_LINK_SECRET")
	setString(&cfg.General.LogLevel, "RELAYBOT_LOG_LEVEL")
	setString(&cfg.Sessions.Backend, "RELAYBOT_SESSION_BACKEND")
	setString(&cfg.Sessions.Redis.Addr, "RELAYBOT_REDIS_ADDR")

	if v := os.Getenv("WORKOFLOW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Degraded lists capabilities that are partly set or set to unusable values.
// They are not validation errors: each one only disables its capability
// (primary backend, webhook backend, webhook basic auth, integrations link)
// and the caller logs the notes as warnings.
func Degraded(cfg *Config) []string {
	var notes []string

	p := cfg.Primary
	switch {
	case p.APIBase == "" && p.APIKey == "":
	case p.APIBase != "" && !isHTTPURL(p.APIBase):
		notes = append(notes, "primary.apiBase is not an http(s) URL; primary backend disabled")
	case strings.TrimSpace(p.APIKey) == "":
		notes = append(notes, "primary.apiKey is not set; primary backend disabled")
	case strings.TrimSpace(p.APIBase) == "":
		notes = append(notes, "primary.apiBase is not set; primary backend disabled")
	}

	f := cfg.Fallback
	if f.WebhookURL != "" && !isHTTPURL(f.WebhookURL) {
		notes = append(notes, "fallback.webhookUrl is not an http(s) URL; fallback backend disabled")
	}
	if (f.Username == "") != (f.Password == "") {
		notes = append(notes, "fallback.username and fallback.password must be set together; basic auth disabled")
	}

	if cfg.Link.Domain != "" && !isHTTPURL(cfg.Link.Domain) {
		notes = append(notes, "link.domain is not an http(s) URL; integrations link disabled")
	}
	return notes
}

// Validate checks that the config has valid values. Missing or unusable
// capabilities (see Degraded) are not errors.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.TurnTimeoutSeconds < 0 || cfg.General.TurnTimeoutSeconds > 600 {
		errs = append(errs, "general.turnTimeoutSeconds must be between 0 and 600")
	}

	if cfg.Primary.TimeoutSeconds < 1 || cfg.Primary.TimeoutSeconds > 300 {
		errs = append(errs, "primary.timeoutSeconds must be between 1 and 300")
	}
	if cfg.Fallback.TimeoutSeconds < 1 || cfg.Fallback.TimeoutSeconds > 300 {
		errs = append(errs, "fallback.timeoutSeconds must be between 1 and 300")
	}

	if cfg.Link.TTLMinutes < 1 || cfg.Link.TTLMinutes > 1440 {
		errs = append(errs, "link.ttlMinutes must be between 1 and 1440")
	}

	switch cfg.Sessions.Backend {
	case "memory":
	case "sqlite":
		if cfg.Sessions.DBPath == "" {
			errs = append(errs, "sessions.dbPath is required for the sqlite backend")
		}
	case "redis":
		if cfg.Sessions.Redis.Addr == "" {
			errs = append(errs, "sessions.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, "sessions.backend must be one of: memory, sqlite, redis")
	}
	if cfg.Sessions.TTLMinutes < 0 {
		errs = append(errs, "sessions.ttlMinutes must be >= 0")
	}
	if cfg.Sessions.MaxEntries < 0 {
		errs = append(errs, "sessions.maxEntries must be >= 0")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.RateLimitPerMinute < 0 || cfg.Server.RateLimitBurst < 0 {
		errs = append(errs, "server.rateLimitPerMinute and server.rateLimitBurst must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
