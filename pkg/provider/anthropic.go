package provider

import (
	"context"
	"fmt"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

const anthropicMaxTokens = 4096

// Anthropic streams Claude message completions.
type Anthropic struct {
	client anthropic.Client
	model  string
	logger zerolog.Logger
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg Config, logger zerolog.Logger) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}

	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: logger.With().Str("component", "provider").Str("provider", KindAnthropic).Logger(),
	}
}

func (p *Anthropic) Name() string { return KindAnthropic }

func (p *Anthropic) Chat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  anthropicMessages(req.Messages),
		MaxTokens: anthropicMaxTokens,
	}

	p.logger.Debug().Str("model", model).Int("messages", len(req.Messages)).Msg("Starting chat stream")

	return pipeRecords(model, func(emit emitFunc) error {
		s := p.client.Messages.NewStreaming(ctx, params)
		defer s.Close()

		for s.Next() {
			event := s.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok {
				continue
			}
			if err := emit(text.Text); err != nil {
				return err
			}
		}
		if err := s.Err(); err != nil {
			return fmt.Errorf("anthropic stream: %w", err)
		}
		return nil
	}), nil
}

func (p *Anthropic) Models(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	names := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

func (p *Anthropic) Ping(ctx context.Context) error {
	_, err := p.Models(ctx)
	return err
}

// anthropicMessages converts history, dropping a leading assistant turn
// because the Messages API requires the conversation to open with the user.
func anthropicMessages(history []ChatMessage) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		if m.Role == "user" {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		if len(messages) == 0 || m.Content == "" {
			continue
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRoleAssistant,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
		})
	}
	return messages
}
