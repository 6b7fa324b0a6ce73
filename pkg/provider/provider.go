// Package provider adapts inference backends to a single streaming shape:
// every Chat call returns newline-delimited JSON records that pkg/stream
// can ingest, regardless of the wire format the backend speaks.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/harun/olmchat/pkg/session"
	"github.com/rs/zerolog"
)

const (
	KindOllama    = "ollama"
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"

	DefaultOllamaURL      = "http://localhost:11434"
	DefaultOllamaModel    = "deepseek-r1:7b"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultTimeout        = 30 * time.Second
)

// ErrUnavailable is returned when the backend cannot be reached or rejects the request.
var ErrUnavailable = errors.New("inference provider unavailable")

// ChatMessage is one turn of history sent to the backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the input to ChatProvider.Chat.
type ChatRequest struct {
	Model    string
	Messages []ChatMessage
}

// ChatProvider streams chat completions.
type ChatProvider interface {
	// Name returns the provider kind.
	Name() string

	// Chat starts a completion and returns its NDJSON record stream.
	// The caller must close the returned reader.
	Chat(ctx context.Context, req ChatRequest) (io.ReadCloser, error)

	// Models lists the model identifiers the backend offers.
	Models(ctx context.Context) ([]string, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// Config selects and configures a provider.
type Config struct {
	Kind    string
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// HistoryFrom maps session messages onto backend history. Any role other
// than user is sent as assistant.
func HistoryFrom(messages []session.Message) []ChatMessage {
	history := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		role := "assistant"
		if m.Role == session.RoleUser {
			role = "user"
		}
		history = append(history, ChatMessage{Role: role, Content: m.Content})
	}
	return history
}

// Factory creates providers from configuration.
type Factory struct {
	Logger zerolog.Logger
}

// NewProvider creates the provider named by cfg.Kind.
func (f *Factory) NewProvider(cfg Config) (ChatProvider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	switch cfg.Kind {
	case "", KindOllama:
		return NewOllama(cfg, f.Logger), nil
	case KindOpenAI:
		return NewOpenAI(cfg, f.Logger), nil
	case KindAnthropic:
		return NewAnthropic(cfg, f.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Kind)
	}
}
