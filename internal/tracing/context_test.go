package tracing

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestWithTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-123")
	assert.Equal(t, "trace-123", GetTraceID(ctx))
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestWithSessionID(t *testing.T) {
	ctx := WithSessionID(context.Background(), "abcdefgh")
	assert.Equal(t, "abcdefgh", GetSessionID(ctx))
	assert.Empty(t, GetSessionID(context.Background()))
}

func TestEnsureTraceID(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	assert.NotEmpty(t, GetTraceID(ctx))

	kept := EnsureTraceID(WithTraceID(context.Background(), "keep-me"))
	assert.Equal(t, "keep-me", GetTraceID(kept))
}

func TestHeaderPropagation(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-abc")
	out, err := http.NewRequest(http.MethodGet, "http://localhost/health", nil)
	require.NoError(t, err)

	InjectHeader(ctx, out)
	assert.Equal(t, "trace-abc", out.Header.Get(TraceHeader))

	in := httptest.NewRequest(http.MethodGet, "/health", nil)
	in.Header.Set(TraceHeader, "trace-abc")
	assert.Equal(t, "trace-abc", GetTraceID(ExtractRequest(in)))

	bare := httptest.NewRequest(http.MethodGet, "/health", nil)
	assert.NotEmpty(t, GetTraceID(ExtractRequest(bare)))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithSessionID(WithTraceID(context.Background(), "t-1"), "s-1")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"trace_id":"t-1"`)
	assert.Contains(t, buf.String(), `"session_id":"s-1"`)
}

func TestStartSpanAssignsTraceID(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "olmchat.test", "test.span")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx))

	err := errors.New("boom")
	assert.Equal(t, err, Fail(span, err))
	assert.NoError(t, Fail(span, nil))
}
