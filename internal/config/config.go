package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

// Config represents the main olmchat configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Directory holding .olm session files
	SessionsDir string `json:"sessions_dir" mapstructure:"sessions_dir"`

	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`
	Autosave AutosaveConfig `json:"autosave" mapstructure:"autosave"`
	Client   ClientConfig   `json:"client" mapstructure:"client"`
}

// ServerConfig holds the session server settings
type ServerConfig struct {
	Host          string `json:"host" mapstructure:"host"`
	Port          int    `json:"port" mapstructure:"port"`
	Debug         bool   `json:"debug" mapstructure:"debug"`
	AuditSchedule string `json:"audit_schedule" mapstructure:"audit_schedule"`
	Watch         bool   `json:"watch" mapstructure:"watch"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// ProviderConfig selects the inference provider
type ProviderConfig struct {
	Kind           string `json:"kind" mapstructure:"kind"` // ollama, openai, anthropic
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
	Model          string `json:"model" mapstructure:"model"`
	APIKey         string `json:"api_key" mapstructure:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// AutosaveConfig holds the debounce settings
type AutosaveConfig struct {
	DelayMs int `json:"delay_ms" mapstructure:"delay_ms"`
}

// Delay returns the debounce delay as a duration.
func (a AutosaveConfig) Delay() time.Duration {
	return time.Duration(a.DelayMs) * time.Millisecond
}

// ClientConfig holds chat client settings
type ClientConfig struct {
	// ServerURL points the client at a running server; empty means the
	// sessions directory is used in-process.
	ServerURL string `json:"server_url" mapstructure:"server_url"`
	Greeting  string `json:"greeting" mapstructure:"greeting"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          3001,
			AuditSchedule: "*/5 * * * *",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Provider: ProviderConfig{
			Kind:           "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "deepseek-r1:7b",
			TimeoutSeconds: 30,
		},
		Autosave: AutosaveConfig{
			DelayMs: 1000,
		},
	}
}

// applyDerived fills paths that depend on DataDir.
func (c *Config) applyDerived(home string) {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(home, ".olmchat")
	}
	if c.SessionsDir == "" {
		c.SessionsDir = filepath.Join(c.DataDir, "sessions")
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "olmchat.log")
	}
}

// String returns a JSON representation of the config with the API key masked
func (c *Config) String() string {
	masked := *c
	if masked.Provider.APIKey != "" {
		masked.Provider.APIKey = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	errs := NewValidator().ValidateConfig(c)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", errs[0])
}
