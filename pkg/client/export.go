package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harun/olmchat/pkg/session"
	"gopkg.in/yaml.v3"
)

// Export formats.
const (
	FormatText = "txt"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const exportTimeLayout = "2006/1/2 15:04:05"

// ExportFileName returns the default download name for a text export.
func ExportFileName(now time.Time) string {
	return "chat_history_" + now.UTC().Format("200601021504") + ".txt"
}

// ExportText writes the active message list as plain text.
func (c *Client) ExportText(w io.Writer) error {
	return WriteText(w, c.Messages())
}

// Export writes the current session, or the bare message list when there
// is no current session, in the requested format.
func (c *Client) Export(w io.Writer, format string) error {
	s := c.Current()
	if s == nil {
		s = &session.Session{Messages: c.Messages()}
	}
	return ExportSession(w, s, format)
}

// ExportSession writes s in the requested format.
func ExportSession(w io.Writer, s *session.Session, format string) error {
	switch strings.ToLower(format) {
	case "", FormatText, "text":
		return WriteText(w, s.Messages)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatYAML, "yml":
		return writeYAML(w, s)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// WriteText renders one "[time] ROLE:" block per message.
func WriteText(w io.Writer, messages []session.Message) error {
	blocks := make([]string, 0, len(messages))
	for _, m := range messages {
		ts := time.UnixMilli(m.Timestamp).Local().Format(exportTimeLayout)
		blocks = append(blocks, fmt.Sprintf("[%s] %s:\n%s\n\n", ts, strings.ToUpper(string(m.Role)), m.Content))
	}
	_, err := io.WriteString(w, strings.Join(blocks, "\n"))
	return err
}

type yamlMessage struct {
	ID        string `yaml:"messageid"`
	Role      string `yaml:"role"`
	Timestamp int64  `yaml:"timestamp"`
	Content   string `yaml:"content"`
}

type yamlSession struct {
	ID          string        `yaml:"id,omitempty"`
	SessionName string        `yaml:"sessionName,omitempty"`
	CreatedAt   int64         `yaml:"createdAt,omitempty"`
	LastUpdated int64         `yaml:"lastUpdated,omitempty"`
	Messages    []yamlMessage `yaml:"messages"`
}

func writeYAML(w io.Writer, s *session.Session) error {
	doc := yamlSession{
		ID:          s.ID,
		SessionName: s.SessionName,
		CreatedAt:   s.CreatedAt,
		LastUpdated: s.LastUpdated,
		Messages:    make([]yamlMessage, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		doc.Messages = append(doc.Messages, yamlMessage{
			ID:        m.MessageID,
			Role:      string(m.Role),
			Timestamp: m.Timestamp,
			Content:   m.Content,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
