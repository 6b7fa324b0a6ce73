package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Ollama talks to a local Ollama daemon. Its /api/chat stream is already
// NDJSON, so Chat hands the response body straight through.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
	logger  zerolog.Logger
}

// NewOllama creates an Ollama provider.
func NewOllama(cfg Config, logger zerolog.Logger) *Ollama {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Ollama{
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			// No overall timeout: a generation can stream for minutes.
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: timeout,
			},
		},
		logger: logger.With().Str("component", "provider").Str("provider", KindOllama).Logger(),
	}
}

func (p *Ollama) Name() string { return KindOllama }

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

func (p *Ollama) Chat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(ollamaChatRequest{Model: model, Messages: req.Messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.Debug().Str("model", model).Int("messages", len(req.Messages)).Msg("Starting chat stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("%w: ollama API error: %d %s", ErrUnavailable, resp.StatusCode, readSnippet(resp.Body))
	}

	return resp.Body, nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (p *Ollama) Models(ctx context.Context) ([]string, error) {
	var tags ollamaTagsResponse
	if err := p.getJSON(ctx, "/api/tags", &tags); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (p *Ollama) Ping(ctx context.Context) error {
	var version struct {
		Version string `json:"version"`
	}
	if err := p.getJSON(ctx, "/api/version", &version); err != nil {
		return err
	}
	p.logger.Debug().Str("version", version.Version).Msg("Ollama reachable")
	return nil
}

func (p *Ollama) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s: %d %s", ErrUnavailable, path, resp.StatusCode, readSnippet(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
