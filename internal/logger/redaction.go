package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

type rule struct {
	pattern *regexp.Regexp
	repl    string
}

// Redactor masks provider credentials in log output.
type Redactor struct {
	rules []rule
}

// NewRedactor creates a redactor with the default rules. Anthropic keys
// are matched before the generic sk- form so the whole key is replaced.
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			{regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{16,}`), redacted},
			{regexp.MustCompile(`sk-[a-zA-Z0-9_-]{16,}`), redacted},
			{regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9._~+/=-]+`), "${1}" + redacted},
			{regexp.MustCompile(`(?i)("?(?:api[_-]?key|x-api-key)"?\s*[:=]\s*"?)[^\s",}]+`), "${1}" + redacted},
		},
	}
}

// AddPattern adds a custom pattern whose matches are fully replaced.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{pattern: re, repl: redacted})
	return nil
}

// Redact masks sensitive values in s.
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		s = rl.pattern.ReplaceAllString(s, rl.repl)
	}
	return s
}

// Wrap returns a writer that redacts everything written through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers do not treat a shorter
// redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
