// Package naming derives sanitized, collision-free file stems from message text.
//
// Invariants:
// - A stem contains only CJK ideographs, ASCII letters, digits and underscores.
// - A stem is never empty; empty input falls back to FallbackLabel.
// - Collision resolution is bounded; exceeding the bound returns ErrExhausted.
//
// Usage:
//
//	r := naming.NewResolver(".olm")
//	stem, err := r.Resolve("hello world", func(name string) bool { return false }, naming.CreateRetries)
package naming

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// FallbackLabel is the stem used when the candidate text sanitizes to nothing.
	// It doubles as the placeholder title that marks a session as "needs rename".
	FallbackLabel = "新建会话"

	// CreateRetries bounds suffix attempts when creating a session.
	CreateRetries = 10
	// RenameRetries bounds suffix attempts when renaming a placeholder session.
	RenameRetries = 5

	maxStemRunes   = 7
	suffixLength   = 2
	suffixAlphabet = "abcdefghijklmnopqrstuvwxyz"
)

// ErrExhausted is returned when every suffixed candidate already exists.
var ErrExhausted = errors.New("name resolution exhausted")

var disallowed = regexp.MustCompile(`[^\x{4e00}-\x{9fa5}a-zA-Z0-9_]`)

// ExistsFunc reports whether a file name (stem plus extension) is taken.
type ExistsFunc func(filename string) bool

// SuffixFunc produces a random collision suffix.
type SuffixFunc func() (string, error)

// Resolver turns candidate text into a unique file stem.
type Resolver struct {
	ext    string
	suffix SuffixFunc
}

// NewResolver creates a resolver for files with the given extension.
func NewResolver(ext string) *Resolver {
	return &Resolver{
		ext:    ext,
		suffix: randomSuffix,
	}
}

// WithSuffixFunc replaces the suffix generator.
func (r *Resolver) WithSuffixFunc(fn SuffixFunc) *Resolver {
	if fn != nil {
		r.suffix = fn
	}
	return r
}

// Extension returns the file extension the resolver appends.
func (r *Resolver) Extension() string {
	return r.ext
}

// Resolve sanitizes candidate and appends random suffixes until exists reports
// the name free. At most maxRetries suffixed names are tried.
func (r *Resolver) Resolve(candidate string, exists ExistsFunc, maxRetries int) (string, error) {
	base := Sanitize(candidate)
	stem := base

	for attempt := 0; ; attempt++ {
		if !exists(stem + r.ext) {
			return stem, nil
		}
		if attempt >= maxRetries {
			return "", fmt.Errorf("%w: %q after %d attempts", ErrExhausted, base, maxRetries)
		}

		suffix, err := r.suffix()
		if err != nil {
			return "", fmt.Errorf("failed to generate suffix: %w", err)
		}
		stem = base + "_" + suffix
	}
}

// Sanitize truncates text to its first seven characters, replaces anything
// outside the allowed set with underscores and trims surrounding underscores.
func Sanitize(text string) string {
	runes := []rune(text)
	if len(runes) > maxStemRunes {
		runes = runes[:maxStemRunes]
	}

	stem := disallowed.ReplaceAllString(string(runes), "_")
	stem = strings.Trim(stem, "_")
	if stem == "" {
		return FallbackLabel
	}
	return stem
}

// IsPlaceholder reports whether a file name or title still carries the fallback label.
func IsPlaceholder(name string) bool {
	return strings.HasPrefix(name, FallbackLabel)
}

func randomSuffix() (string, error) {
	return gonanoid.Generate(suffixAlphabet, suffixLength)
}
