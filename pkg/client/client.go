package client

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harun/olmchat/internal/tracing"
	"github.com/harun/olmchat/pkg/autosave"
	"github.com/harun/olmchat/pkg/naming"
	"github.com/harun/olmchat/pkg/provider"
	"github.com/harun/olmchat/pkg/session"
	"github.com/harun/olmchat/pkg/stream"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "olmchat.client"

var (
	// ErrNoProvider is returned by SendMessage when no provider is configured.
	ErrNoProvider = errors.New("no inference provider configured")

	errSaveFailed = errors.New("session save failed")
)

// Client holds the conversation state of one chat front end: the session
// cache, the current session and its active message list.
type Client struct {
	backend      Backend
	provider     provider.ChatProvider
	scheduler    *autosave.Scheduler
	autosaveOpts []autosave.Option
	logger       zerolog.Logger
	greeting     string
	model        string
	now          func() time.Time

	mu       sync.Mutex
	sessions []session.Session
	current  *session.Session
	messages []session.Message
}

// Option configures a Client.
type Option func(*Client)

func WithProvider(p provider.ChatProvider) Option {
	return func(c *Client) { c.provider = p }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With().Str("component", "client").Logger()
	}
}

func WithGreeting(greeting string) Option {
	return func(c *Client) {
		if greeting != "" {
			c.greeting = greeting
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithAutosave passes options to the debounce scheduler.
func WithAutosave(opts ...autosave.Option) Option {
	return func(c *Client) { c.autosaveOpts = append(c.autosaveOpts, opts...) }
}

// New creates a client. The active message list starts with the greeting.
func New(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend:  backend,
		logger:   zerolog.Nop(),
		greeting: session.DefaultGreeting,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	schedOpts := append([]autosave.Option{autosave.WithLogger(c.logger)}, c.autosaveOpts...)
	c.scheduler = autosave.New(c.saveCurrent, schedOpts...)
	c.messages = []session.Message{session.NewMessage(session.RoleAssistant, c.greeting, c.now())}

	return c
}

// Scheduler exposes the autosave scheduler.
func (c *Client) Scheduler() *autosave.Scheduler {
	return c.scheduler
}

// Sessions returns a copy of the session cache.
func (c *Client) Sessions() []session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.Session(nil), c.sessions...)
}

// Current returns a snapshot of the current session with the active
// messages, or nil when there is none.
func (c *Client) Current() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Messages returns a copy of the active message list.
func (c *Client) Messages() []session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.Message(nil), c.messages...)
}

func (c *Client) snapshotLocked() *session.Session {
	if c.current == nil {
		return nil
	}
	s := c.current.Clone()
	s.Messages = append([]session.Message(nil), c.messages...)
	return s
}

// CreateNewSession creates a session seeded with the greeting and makes it current.
func (c *Client) CreateNewSession(ctx context.Context) (*session.Session, error) {
	return c.create(ctx, session.NewDraft(c.greeting, c.now()))
}

// createFromMessages persists the active message list as a new session.
func (c *Client) createFromMessages(ctx context.Context) (*session.Session, error) {
	now := c.now().UnixMilli()
	c.mu.Lock()
	draft := session.Draft{
		SessionName: naming.FallbackLabel,
		CreatedAt:   now,
		LastUpdated: now,
		Messages:    append([]session.Message(nil), c.messages...),
	}
	c.mu.Unlock()

	return c.create(ctx, draft)
}

func (c *Client) create(ctx context.Context, draft session.Draft) (*session.Session, error) {
	created, err := c.backend.Create(ctx, draft)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to create session")
		return nil, err
	}

	c.mu.Lock()
	c.current = created.Clone()
	c.messages = append([]session.Message(nil), created.Messages...)
	c.sessions = append(c.sessions, *created.Clone())
	c.mu.Unlock()

	c.logger.Info().Str("session_id", created.ID).Str("name", created.SessionName).Msg("Session created")
	return created, nil
}

// SwitchSession loads target from the backend and makes it current. A
// pending autosave for the previous session is flushed first.
func (c *Client) SwitchSession(ctx context.Context, target session.Session) error {
	if c.scheduler.Pending() {
		if err := c.scheduler.FlushNow(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to flush before switching session")
		}
	}

	loaded, err := c.backend.Read(ctx, target.FilePath)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.current = target.Clone()
	c.messages = append([]session.Message(nil), loaded.Messages...)
	c.mu.Unlock()

	return nil
}

// SaveSession writes s with the active message list. It reports failure
// instead of returning an error so callers can retry or warn.
func (c *Client) SaveSession(ctx context.Context, s *session.Session) bool {
	if s == nil {
		return false
	}

	c.mu.Lock()
	if c.indexLocked(s.ID) < 0 {
		c.mu.Unlock()
		c.logger.Debug().Str("session_id", s.ID).Msg("Save skipped: session not in cache")
		return false
	}
	payload := s.Clone()
	payload.Messages = append([]session.Message(nil), c.messages...)
	payload.LastUpdated = c.now().UnixMilli()
	c.mu.Unlock()

	result, err := c.backend.Save(ctx, payload)
	if err != nil {
		c.logger.Warn().Err(err).Str("session_id", s.ID).Msg("Session save failed")
		return false
	}

	payload.FilePath = result.NewPath
	if result.Renamed {
		payload.SessionName = strings.TrimSuffix(filepath.Base(result.NewPath), session.Extension)
	}

	c.mu.Lock()
	if i := c.indexLocked(payload.ID); i >= 0 {
		cached := *payload.Clone()
		c.sessions[i] = cached
	}
	if c.current != nil && c.current.ID == payload.ID {
		c.current = payload.Clone()
	}
	c.mu.Unlock()

	return true
}

func (c *Client) indexLocked(id string) int {
	for i := range c.sessions {
		if c.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// saveCurrent is the autosave target. With no current session it does nothing.
func (c *Client) saveCurrent(ctx context.Context) error {
	c.mu.Lock()
	cur := c.snapshotLocked()
	c.mu.Unlock()

	if cur == nil {
		return nil
	}
	if !c.SaveSession(ctx, cur) {
		return errSaveFailed
	}
	return nil
}

// LoadSessions replaces the cache with the backend listing.
func (c *Client) LoadSessions(ctx context.Context) error {
	sessions, err := c.backend.List(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sessions = sessions
	c.mu.Unlock()
	return nil
}

// SendMessage appends a user message, streams the assistant reply into the
// active message list and flushes the session when the stream ends.
func (c *Client) SendMessage(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if c.provider == nil {
		return ErrNoProvider
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "client.send_message",
		attribute.String("provider", c.provider.Name()))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	c.mu.Lock()
	c.messages = append(c.messages, session.NewMessage(session.RoleUser, content, c.now()))
	hasCurrent := c.current != nil
	c.mu.Unlock()

	if !hasCurrent {
		if _, err := c.createFromMessages(ctx); err != nil {
			return tracing.Fail(span, err)
		}
	} else {
		c.scheduler.Schedule()
	}

	c.mu.Lock()
	history := provider.HistoryFrom(c.messages)
	c.mu.Unlock()

	body, err := c.provider.Chat(ctx, provider.ChatRequest{Model: c.model, Messages: history})
	if err != nil {
		logger.Error().Err(err).Msg("Chat request failed")
		return tracing.Fail(span, err)
	}

	c.mu.Lock()
	c.messages = append(c.messages, session.NewMessage(session.RoleAssistant, "", c.now()))
	c.mu.Unlock()

	ingestor := stream.NewIngestor(messageSink{c}, stream.WithLogger(c.logger))
	runErr := ingestor.Run(ctx, body)
	if ctx.Err() != nil {
		c.scheduler.Cancel()
		return tracing.Fail(span, ctx.Err())
	}

	stats := ingestor.Stats()
	span.SetAttributes(attribute.Int("records_applied", stats.Applied))

	if err := c.scheduler.FlushNow(ctx); err != nil {
		logger.Warn().Err(err).Msg("Final save after stream failed")
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return tracing.Fail(span, runErr)
	}
	return nil
}

// Models lists the models offered by the provider.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	if c.provider == nil {
		return nil, ErrNoProvider
	}
	return c.provider.Models(ctx)
}

// Close flushes a pending autosave and stops the scheduler.
func (c *Client) Close(ctx context.Context) error {
	var err error
	if c.scheduler.Pending() {
		err = c.scheduler.FlushNow(ctx)
	}
	c.scheduler.Close()
	if err != nil {
		return fmt.Errorf("final autosave: %w", err)
	}
	return nil
}

// messageSink applies stream deltas to the client's active message list.
type messageSink struct {
	c *Client
}

func (s messageSink) AppendAssistantDelta(fragment string) bool {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	n := len(s.c.messages)
	if n == 0 || s.c.messages[n-1].Role != session.RoleAssistant {
		return false
	}
	s.c.messages[n-1].Content += fragment
	return true
}
