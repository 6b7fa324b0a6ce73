package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "OLMCHAT"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file, falling back to defaults when
// no file exists. OLMCHAT_* environment variables override both.
func (l *Loader) Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := l.configPath
	if configPath == "" {
		configPath = defaultConfigPath(home)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, DefaultConfig())

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDerived(home)

	return cfg, nil
}

// bindDefaults registers every key so AutomaticEnv can override keys the
// file does not mention.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("sessions_dir", cfg.SessionsDir)
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.debug", cfg.Server.Debug)
	v.SetDefault("server.audit_schedule", cfg.Server.AuditSchedule)
	v.SetDefault("server.watch", cfg.Server.Watch)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("provider.kind", cfg.Provider.Kind)
	v.SetDefault("provider.base_url", cfg.Provider.BaseURL)
	v.SetDefault("provider.model", cfg.Provider.Model)
	v.SetDefault("provider.api_key", cfg.Provider.APIKey)
	v.SetDefault("provider.timeout_seconds", cfg.Provider.TimeoutSeconds)
	v.SetDefault("autosave.delay_ms", cfg.Autosave.DelayMs)
	v.SetDefault("client.server_url", cfg.Client.ServerURL)
	v.SetDefault("client.greeting", cfg.Client.Greeting)
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("data_dir", cfg.DataDir)
	v.Set("sessions_dir", cfg.SessionsDir)
	v.Set("server", cfg.Server)
	v.Set("logging", cfg.Logging)
	v.Set("provider", cfg.Provider)
	v.Set("autosave", cfg.Autosave)
	v.Set("client", cfg.Client)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return os.Chmod(configPath, 0o600)
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return defaultConfigPath(home)
}

func defaultConfigPath(home string) string {
	return filepath.Join(home, ".olmchat", "olmchat.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
