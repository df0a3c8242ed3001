// Package config loads gateway configuration. Values come from built-in
// defaults, then ~/.wagate/config.json (or an explicit path), then a .env
// file, then WAGATE_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "WAGATE_"

// WebhookOverrideEnv forces the webhook URL and enables delivery.
const WebhookOverrideEnv = "WHATSAPP_BOT_WEBHOOK"

// Duration is a time.Duration that reads "8s" style strings from JSON and env.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// D is shorthand for building a Duration literal.
func D(v time.Duration) Duration { return Duration{v} }

type Config struct {
	DataDir   string          `json:"data_dir" env:"DATA_DIR"`
	LogLevel  string          `json:"log_level" env:"LOG_LEVEL"`
	LogFormat string          `json:"log_format" env:"LOG_FORMAT"`
	Gateway   GatewayConfig   `json:"gateway" envPrefix:"GATEWAY_"`
	Session   SessionConfig   `json:"session" envPrefix:"SESSION_"`
	Dedup     DedupConfig     `json:"dedup" envPrefix:"DEDUP_"`
	Dispatch  DispatchConfig  `json:"dispatch" envPrefix:"DISPATCH_"`
	Webhook   WebhookConfig   `json:"webhook" envPrefix:"WEBHOOK_"`
	Logs      LogsConfig      `json:"logs" envPrefix:"LOGS_"`
	Templates TemplatesConfig `json:"templates" envPrefix:"TEMPLATES_"`
}

type GatewayConfig struct {
	Host   string `json:"host" env:"HOST"`
	Port   int    `json:"port" env:"PORT"`
	APIKey string `json:"api_key" env:"API_KEY"`
}

// SessionConfig tunes the session supervisor.
type SessionConfig struct {
	StorePath            string   `json:"store_path" env:"STORE_PATH"`
	QRTimeout            Duration `json:"qr_timeout" env:"QR_TIMEOUT"`
	ReconnectDelay       Duration `json:"reconnect_delay" env:"RECONNECT_DELAY"`
	MaxReconnectAttempts int      `json:"max_reconnect_attempts" env:"MAX_RECONNECT_ATTEMPTS"`
	TransportLogLevel    string   `json:"transport_log_level" env:"TRANSPORT_LOG_LEVEL"`
	PrintQR              bool     `json:"print_qr" env:"PRINT_QR"`
}

type DedupConfig struct {
	Retention     Duration `json:"retention" env:"RETENTION"`
	SweepInterval Duration `json:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// DispatchConfig is the two-tier outbound rate limit.
type DispatchConfig struct {
	MessageDelay Duration `json:"message_delay" env:"MESSAGE_DELAY"`
	BatchSize    int      `json:"batch_size" env:"BATCH_SIZE"`
	BatchPause   Duration `json:"batch_pause" env:"BATCH_PAUSE"`
}

// WebhookConfig seeds the runtime webhook settings and the delivery policy.
// URL may also come from WHATSAPP_BOT_WEBHOOK, which wins over everything.
type WebhookConfig struct {
	URL           string   `json:"url" env:"URL"`
	Active        bool     `json:"active" env:"ACTIVE"`
	Timeout       Duration `json:"timeout" env:"TIMEOUT"`
	MaxRetries    int      `json:"max_retries" env:"MAX_RETRIES"`
	RetryInterval Duration `json:"retry_interval" env:"RETRY_INTERVAL"`
	ItemPause     Duration `json:"item_pause" env:"ITEM_PAUSE"`
	KeepaliveCron string   `json:"keepalive_cron" env:"KEEPALIVE_CRON"`

	// Override is read from WebhookOverrideEnv, outside the WAGATE_ prefix.
	Override string `json:"-"`
}

type LogsConfig struct {
	History int    `json:"history" env:"HISTORY"`
	DBPath  string `json:"db_path" env:"DB_PATH"`
}

type TemplatesConfig struct {
	Dirs []string `json:"dirs" env:"DIRS" envSeparator:","`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".wagate")
	return &Config{
		DataDir:   dataDir,
		LogLevel:  "info",
		LogFormat: "text",
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 5000,
		},
		Session: SessionConfig{
			QRTimeout:            D(60 * time.Second),
			ReconnectDelay:       D(5 * time.Second),
			MaxReconnectAttempts: 5,
			TransportLogLevel:    "WARN",
			PrintQR:              true,
		},
		Dedup: DedupConfig{
			Retention:     D(60 * time.Minute),
			SweepInterval: D(30 * time.Minute),
		},
		Dispatch: DispatchConfig{
			MessageDelay: D(8 * time.Second),
			BatchSize:    10,
			BatchPause:   D(30 * time.Second),
		},
		Webhook: WebhookConfig{
			Timeout:       D(8 * time.Second),
			MaxRetries:    3,
			RetryInterval: D(5 * time.Second),
			ItemPause:     D(500 * time.Millisecond),
			KeepaliveCron: "* * * * *",
		},
		Logs: LogsConfig{
			History: 100,
		},
		Templates: TemplatesConfig{
			Dirs: []string{"templates/messages", filepath.Join(dataDir, "templates")},
		},
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wagate", "config.json")
}

// Load builds the effective configuration. A missing config file is not an
// error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// .env is optional
	_ = godotenv.Load()

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Webhook.Override = strings.TrimSpace(os.Getenv(WebhookOverrideEnv))

	cfg.applyPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyPaths() {
	c.DataDir = expandHome(c.DataDir)
	if c.Session.StorePath == "" {
		c.Session.StorePath = filepath.Join(c.DataDir, "session.db")
	}
	if c.Logs.DBPath == "" {
		c.Logs.DBPath = filepath.Join(c.DataDir, "gateway.db")
	}
	c.Session.StorePath = expandHome(c.Session.StorePath)
	c.Logs.DBPath = expandHome(c.Logs.DBPath)
}

// ContactsDir is where contact records are kept.
func (c *Config) ContactsDir() string {
	return filepath.Join(c.DataDir, "contacts")
}

// Validate rejects limits that would stall or spin the pipeline.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port))
	}
	if c.Session.QRTimeout.Duration <= 0 {
		errs = append(errs, errors.New("session.qr_timeout must be positive"))
	}
	if c.Session.ReconnectDelay.Duration <= 0 {
		errs = append(errs, errors.New("session.reconnect_delay must be positive"))
	}
	if c.Session.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("session.max_reconnect_attempts must not be negative"))
	}
	if c.Dedup.Retention.Duration <= 0 || c.Dedup.SweepInterval.Duration <= 0 {
		errs = append(errs, errors.New("dedup.retention and dedup.sweep_interval must be positive"))
	}
	if c.Dispatch.MessageDelay.Duration < 0 || c.Dispatch.BatchPause.Duration < 0 {
		errs = append(errs, errors.New("dispatch delays must not be negative"))
	}
	if c.Dispatch.BatchSize <= 0 {
		errs = append(errs, errors.New("dispatch.batch_size must be positive"))
	}
	if c.Webhook.Timeout.Duration <= 0 || c.Webhook.RetryInterval.Duration <= 0 {
		errs = append(errs, errors.New("webhook.timeout and webhook.retry_interval must be positive"))
	}
	if c.Webhook.MaxRetries < 0 {
		errs = append(errs, errors.New("webhook.max_retries must not be negative"))
	}
	if c.Logs.History <= 0 {
		errs = append(errs, errors.New("logs.history must be positive"))
	}
	return errors.Join(errs...)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
