// Package config handles Vendorbot configuration loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/vendorbot/config.yaml, /etc/vendorbot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "vendorbot", "config.yaml"))
	}

	paths = append(paths, "/etc/vendorbot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Vendorbot configuration.
type Config struct {
	Listen    ListenConfig            `yaml:"listen"`
	Anthropic AnthropicConfig         `yaml:"anthropic"`
	Agent     AgentConfig             `yaml:"agent"`
	Commerce  CommerceConfig          `yaml:"commerce"`
	WhatsApp  WhatsAppConfig          `yaml:"whatsapp"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
	Pricing   map[string]PricingEntry `yaml:"pricing"`
	DataDir   string                  `yaml:"data_dir"`
	LogLevel  string                  `yaml:"log_level"`
	LogFormat string                  `yaml:"log_format"` // text or json
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
	// APIKey protects the /v1 endpoints when set. The webhook and
	// health check stay open.
	APIKey string `yaml:"api_key"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// AgentConfig bounds the per-message agent loop.
type AgentConfig struct {
	// MaxRounds caps model invocations per inbound message.
	MaxRounds int `yaml:"max_rounds"`
	// HistoryWindow is the number of recent messages fed to the model,
	// counting the one being answered.
	HistoryWindow int `yaml:"history_window"`
	// ModelTimeoutSec bounds each model call.
	ModelTimeoutSec int `yaml:"model_timeout_sec"`
	// ToolTimeoutSec bounds each tool invocation, backend calls included.
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
}

// ModelTimeout returns the model call bound as a duration.
func (a AgentConfig) ModelTimeout() time.Duration {
	return time.Duration(a.ModelTimeoutSec) * time.Second
}

// ToolTimeout returns the tool call bound as a duration.
func (a AgentConfig) ToolTimeout() time.Duration {
	return time.Duration(a.ToolTimeoutSec) * time.Second
}

// CommerceConfig points at the WooCommerce/Dokan REST backend.
type CommerceConfig struct {
	BaseURL        string `yaml:"base_url"`
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	TimeoutSec     int    `yaml:"timeout_sec"`
}

// WhatsAppConfig defines the Twilio WhatsApp channel.
type WhatsAppConfig struct {
	Enabled    bool   `yaml:"enabled"`
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	// FromNumber is the Twilio WhatsApp sender in E.164 form.
	FromNumber string `yaml:"from_number"`
	// ValidateSignature checks X-Twilio-Signature on inbound webhooks.
	ValidateSignature bool `yaml:"validate_signature"`
	// PublicURL is the externally visible webhook URL Twilio signs.
	PublicURL string `yaml:"public_url"`
	// RateLimitPerMinute caps inbound messages per sender (default 10).
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	// SerializePerSender processes one message at a time per sender.
	// Nil means the default (true).
	SerializePerSender *bool `yaml:"serialize_per_sender"`
	// ProcessTimeoutSec bounds the asynchronous handling of one message.
	ProcessTimeoutSec int `yaml:"process_timeout_sec"`
	// MaxMessageLength truncates outbound replies.
	MaxMessageLength int `yaml:"max_message_length"`
}

// Serialize reports whether per-sender serialization is on.
func (w WhatsAppConfig) Serialize() bool {
	return w.SerializePerSender == nil || *w.SerializePerSender
}

// TelemetryConfig controls OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// PricingEntry is the USD price per million tokens for one model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Load reads configuration from a YAML file, expanding ${VAR} references
// and applying defaults. It does not validate; call Validate for that.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Anthropic.BaseURL == "" {
		c.Anthropic.BaseURL = "https://api.anthropic.com"
	}
	if c.Anthropic.Model == "" {
		c.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if c.Anthropic.MaxTokens == 0 {
		c.Anthropic.MaxTokens = 1024
	}
	if c.Agent.MaxRounds == 0 {
		c.Agent.MaxRounds = 5
	}
	if c.Agent.HistoryWindow == 0 {
		c.Agent.HistoryWindow = 20
	}
	if c.Agent.ModelTimeoutSec == 0 {
		c.Agent.ModelTimeoutSec = 60
	}
	if c.Agent.ToolTimeoutSec == 0 {
		c.Agent.ToolTimeoutSec = 30
	}
	if c.Commerce.TimeoutSec == 0 {
		c.Commerce.TimeoutSec = 20
	}
	if c.WhatsApp.RateLimitPerMinute == 0 {
		c.WhatsApp.RateLimitPerMinute = 10
	}
	if c.WhatsApp.ProcessTimeoutSec == 0 {
		c.WhatsApp.ProcessTimeoutSec = 180
	}
	if c.WhatsApp.MaxMessageLength == 0 {
		c.WhatsApp.MaxMessageLength = 1600
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4317"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "vendorbot"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate reports every configuration problem it finds, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Anthropic.APIKey == "" {
		errs = append(errs, errors.New("anthropic.api_key is required"))
	}
	if c.Agent.MaxRounds < 1 || c.Agent.MaxRounds > 10 {
		errs = append(errs, fmt.Errorf("agent.max_rounds %d must be between 1 and 10", c.Agent.MaxRounds))
	}
	if c.Agent.HistoryWindow < 1 {
		errs = append(errs, fmt.Errorf("agent.history_window %d must be positive", c.Agent.HistoryWindow))
	}
	if c.Agent.ModelTimeoutSec < 1 || c.Agent.ToolTimeoutSec < 1 {
		errs = append(errs, errors.New("agent timeouts must be positive"))
	}
	if c.Commerce.BaseURL == "" {
		errs = append(errs, errors.New("commerce.base_url is required"))
	} else if u, err := url.Parse(c.Commerce.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("commerce.base_url %q is not an absolute URL", c.Commerce.BaseURL))
	}
	if c.WhatsApp.Enabled {
		if c.WhatsApp.AccountSID == "" || c.WhatsApp.AuthToken == "" || c.WhatsApp.FromNumber == "" {
			errs = append(errs, errors.New("whatsapp.account_sid, auth_token and from_number are required when whatsapp is enabled"))
		}
		if c.WhatsApp.ValidateSignature && c.WhatsApp.PublicURL == "" {
			errs = append(errs, errors.New("whatsapp.public_url is required for signature validation"))
		}
	}
	if c.WhatsApp.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("whatsapp.rate_limit_per_minute must not be negative"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}

	return errors.Join(errs...)
}
