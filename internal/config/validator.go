package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

var (
	validProviders = []string{"ollama", "openai", "anthropic"}
	validLevels    = []string{"debug", "info", "warn", "error"}
)

// Validator validates configuration values
type Validator struct {
	parser cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateProviderKind validates the inference provider name
func (v *Validator) ValidateProviderKind(kind string) error {
	for _, valid := range validProviders {
		if kind == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid provider kind: %s (must be one of: %s)", kind, strings.Join(validProviders, ", "))
}

// ValidateAPIKey validates an API key format for hosted providers
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	switch provider {
	case "anthropic":
		if key == "" {
			return fmt.Errorf("anthropic API key cannot be empty")
		}
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if key == "" {
			return fmt.Errorf("openai API key cannot be empty")
		}
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateURL validates an absolute http(s) URL. Empty is allowed.
func (v *Validator) ValidateURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: host is required", raw)
	}
	return nil
}

// ValidateSchedule validates a cron spec. Empty disables the schedule.
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := v.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid audit schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateProviderKind(cfg.Provider.Kind); err != nil {
		errors = append(errors, err)
	} else if err := v.ValidateAPIKey(cfg.Provider.APIKey, cfg.Provider.Kind); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateURL(cfg.Provider.BaseURL); err != nil {
		errors = append(errors, fmt.Errorf("provider.base_url: %w", err))
	}
	if cfg.Provider.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("provider.timeout_seconds must be >= 0"))
	}

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, fmt.Errorf("server.port: %w", err))
	}
	if err := v.ValidateSchedule(cfg.Server.AuditSchedule); err != nil {
		errors = append(errors, err)
	}

	if cfg.Autosave.DelayMs <= 0 {
		errors = append(errors, fmt.Errorf("autosave.delay_ms must be > 0, got %d", cfg.Autosave.DelayMs))
	}

	if err := v.ValidateURL(cfg.Client.ServerURL); err != nil {
		errors = append(errors, fmt.Errorf("client.server_url: %w", err))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
