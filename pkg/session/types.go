package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harun/olmchat/pkg/naming"
)

// Extension is the file extension of stored sessions.
const Extension = ".olm"

// DefaultGreeting seeds every new session.
const DefaultGreeting = "你今天来陪我玩我真是太高兴了，你有什么想和我说的吗?"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the known authors.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single conversation turn. Only the trailing message of a
// session is ever mutated after it is appended.
type Message struct {
	MessageID string `json:"messageid"`
	Content   string `json:"content"`
	Role      Role   `json:"role"`
	Timestamp int64  `json:"timestamp"`
}

// NewMessage creates a message with a fresh id.
func NewMessage(role Role, content string, now time.Time) Message {
	return Message{
		MessageID: uuid.NewString(),
		Content:   content,
		Role:      role,
		Timestamp: now.UnixMilli(),
	}
}

// Session is the persisted unit of conversation state.
type Session struct {
	ID          string    `json:"id"`
	SessionName string    `json:"sessionName"`
	FilePath    string    `json:"filePath"`
	CreatedAt   int64     `json:"createdAt"`
	LastUpdated int64     `json:"lastUpdated"`
	Messages    []Message `json:"messages"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	return &c
}

// Last returns the trailing message or nil when there is none.
func (s *Session) Last() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// AppendAssistantDelta appends fragment to the trailing message when it is
// authored by the assistant and reports whether it did.
func (s *Session) AppendAssistantDelta(fragment string) bool {
	last := s.Last()
	if last == nil || last.Role != RoleAssistant {
		return false
	}
	last.Content += fragment
	return true
}

// FirstUserContent returns the content of the first user-authored message.
func (s *Session) FirstUserContent() string {
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			return m.Content
		}
	}
	return ""
}

// Draft is the input to Store.Create.
type Draft struct {
	SessionName string    `json:"sessionName,omitempty"`
	CreatedAt   int64     `json:"createdAt"`
	LastUpdated int64     `json:"lastUpdated,omitempty"`
	Messages    []Message `json:"messages"`
}

// NewDraft builds a draft seeded with a single assistant greeting.
func NewDraft(greeting string, now time.Time) Draft {
	if greeting == "" {
		greeting = DefaultGreeting
	}
	return Draft{
		SessionName: naming.FallbackLabel,
		CreatedAt:   now.UnixMilli(),
		LastUpdated: now.UnixMilli(),
		Messages:    []Message{NewMessage(RoleAssistant, greeting, now)},
	}
}

// titleCandidate is the text a new session is named after: the second
// message, which is the user's opening line when present.
func (d Draft) titleCandidate() string {
	if len(d.Messages) > 1 && d.Messages[1].Content != "" {
		return d.Messages[1].Content
	}
	return naming.FallbackLabel
}

func validateMessages(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrValidation)
	}
	for i, m := range messages {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: message %d has unknown role %q", ErrValidation, i, m.Role)
		}
	}
	return nil
}

// stemOf returns the session name encoded in a file path.
func stemOf(path string) string {
	return strings.TrimSuffix(filepath.Base(path), Extension)
}

func validStem(stem string) bool {
	if stem == "" || stem == "." || stem == ".." {
		return false
	}
	return !strings.ContainsAny(stem, "/\\\x00")
}
