package provider

import (
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// OpenAI streams chat completions from the OpenAI API, or any server that
// speaks its protocol when BaseURL is set.
type OpenAI struct {
	client openai.Client
	model  string
	logger zerolog.Logger
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg Config, logger zerolog.Logger) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger.With().Str("component", "provider").Str("provider", KindOpenAI).Logger(),
	}
}

func (p *OpenAI) Name() string { return KindOpenAI }

func (p *OpenAI) Chat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: openAIMessages(req.Messages),
	}

	p.logger.Debug().Str("model", model).Int("messages", len(req.Messages)).Msg("Starting chat stream")

	return pipeRecords(model, func(emit emitFunc) error {
		s := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer s.Close()

		for s.Next() {
			chunk := s.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if err := emit(chunk.Choices[0].Delta.Content); err != nil {
				return err
			}
		}
		if err := s.Err(); err != nil {
			return fmt.Errorf("openai stream: %w", err)
		}
		return nil
	}), nil
}

func (p *OpenAI) Models(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	names := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

func (p *OpenAI) Ping(ctx context.Context) error {
	_, err := p.Models(ctx)
	return err
}

func openAIMessages(history []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case "user":
			messages = append(messages, openai.UserMessage(m.Content))
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.AssistantMessage(m.Content))
		}
	}
	return messages
}
