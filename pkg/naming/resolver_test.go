package naming

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain ascii", "hello", "hello"},
		{"truncated to seven", "abcdefghij", "abcdefg"},
		{"spaces replaced", "hi there", "hi_ther"},
		{"leading and trailing trimmed", "  hey  ", "hey"},
		{"cjk kept", "你好世界", "你好世界"},
		{"mixed cjk and punctuation", "你好, world", "你好__wor"},
		{"only punctuation", "!!!???", FallbackLabel},
		{"empty", "", FallbackLabel},
		{"underscores only", "___", FallbackLabel},
		{"digits kept", "2024 plan", "2024_pl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.input))
		})
	}
}

func TestResolver_ResolveFree(t *testing.T) {
	r := NewResolver(".olm")

	stem, err := r.Resolve("hello world", func(string) bool { return false }, CreateRetries)
	require.NoError(t, err)
	assert.Equal(t, "hello_w", stem)
}

func TestResolver_ResolveAppendsSuffixOnCollision(t *testing.T) {
	r := NewResolver(".olm")
	taken := map[string]bool{"hello.olm": true}

	stem, err := r.Resolve("hello", func(name string) bool { return taken[name] }, CreateRetries)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^hello_[a-z]{2}$`), stem)
	assert.False(t, taken[stem+".olm"])
}

func TestResolver_ResolveExhausted(t *testing.T) {
	r := NewResolver(".olm")
	calls := 0

	_, err := r.Resolve("hello", func(string) bool {
		calls++
		return true
	}, RenameRetries)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, RenameRetries+1, calls)
}

func TestResolver_SuffixFailure(t *testing.T) {
	r := NewResolver(".olm").WithSuffixFunc(func() (string, error) {
		return "", errors.New("entropy gone")
	})

	_, err := r.Resolve("hello", func(string) bool { return true }, CreateRetries)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrExhausted))
}

func TestResolver_DeterministicSuffix(t *testing.T) {
	suffixes := []string{"aa", "bb", "cc"}
	i := 0
	r := NewResolver(".olm").WithSuffixFunc(func() (string, error) {
		s := suffixes[i]
		i++
		return s, nil
	})
	taken := map[string]bool{"x.olm": true, "x_aa.olm": true}

	stem, err := r.Resolve("x", func(name string) bool { return taken[name] }, CreateRetries)
	require.NoError(t, err)
	assert.Equal(t, "x_bb", stem)
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder(FallbackLabel+".olm"))
	assert.True(t, IsPlaceholder(FallbackLabel+"_ab.olm"))
	assert.False(t, IsPlaceholder("hello.olm"))
}
