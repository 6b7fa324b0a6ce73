package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading stdin and writing stdout
func NewWizard() *Wizard {
	return NewWizardWithIO(os.Stdin, os.Stdout)
}

// NewWizardWithIO creates a wizard over arbitrary streams
func NewWizardWithIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run walks through provider, server and logging settings starting from base.
func (w *Wizard) Run(base *Config) (*Config, error) {
	cfg := DefaultConfig()
	if base != nil {
		copied := *base
		cfg = &copied
	}
	validator := NewValidator()

	fmt.Fprintln(w.out, "=== olmchat Configuration Wizard ===")
	fmt.Fprintln(w.out)

	for {
		kind, err := w.ask("Provider (ollama/openai/anthropic)", cfg.Provider.Kind)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateProviderKind(kind); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		if kind != cfg.Provider.Kind {
			cfg.Provider.BaseURL = ""
			cfg.Provider.Model = ""
			cfg.Provider.APIKey = ""
		}
		cfg.Provider.Kind = kind
		break
	}

	if cfg.Provider.Kind == "ollama" {
		for {
			baseURL, err := w.ask("Ollama URL", firstNonEmpty(cfg.Provider.BaseURL, "http://localhost:11434"))
			if err != nil {
				return nil, err
			}
			if err := validator.ValidateURL(baseURL); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
			cfg.Provider.BaseURL = baseURL
			break
		}
	} else {
		for {
			key, err := w.ask("API key", cfg.Provider.APIKey)
			if err != nil {
				return nil, err
			}
			if err := validator.ValidateAPIKey(key, cfg.Provider.Kind); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
			cfg.Provider.APIKey = key
			break
		}
	}

	model, err := w.ask("Model", cfg.Provider.Model)
	if err != nil {
		return nil, err
	}
	cfg.Provider.Model = model

	fmt.Fprintln(w.out)

	for {
		raw, err := w.ask("Server port", strconv.Itoa(cfg.Server.Port))
		if err != nil {
			return nil, err
		}
		port, convErr := strconv.Atoi(raw)
		if convErr == nil {
			convErr = validator.ValidatePort(port)
		}
		if convErr != nil {
			fmt.Fprintf(w.out, "Error: %v\n", convErr)
			continue
		}
		cfg.Server.Port = port
		break
	}

	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		level = "info"
	}
	cfg.Logging.Level = level

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

// ask prompts with a default shown in brackets; an empty answer keeps it.
func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}

	line, err := w.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
