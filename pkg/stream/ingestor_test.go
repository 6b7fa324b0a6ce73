package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/olmchat/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(lastRole session.Role) *session.Session {
	now := time.UnixMilli(1700000000000)
	return &session.Session{
		Messages: []session.Message{
			session.NewMessage(session.RoleUser, "question", now),
			session.NewMessage(lastRole, "", now),
		},
	}
}

// trackingReader records Close calls and can block until closed.
type trackingReader struct {
	io.Reader
	closed atomic.Int32
	block  chan struct{}
}

func (r *trackingReader) Read(p []byte) (int, error) {
	if r.block != nil {
		<-r.block
		return 0, errors.New("read on closed body")
	}
	return r.Reader.Read(p)
}

func (r *trackingReader) Close() error {
	if r.closed.Add(1) == 1 && r.block != nil {
		close(r.block)
	}
	return nil
}

func TestIngestor_SplitAcrossChunks(t *testing.T) {
	sess := newSession(session.RoleAssistant)
	in := NewIngestor(sess)

	payload := `{"message":{"content":"He"}}` + "\n" + `{"message":{"content":"llo"}}` + "\n"
	split := 10

	require.NoError(t, in.Feed([]byte(payload[:split])))
	assert.Equal(t, "", sess.Last().Content)
	require.NoError(t, in.Feed([]byte(payload[split:35])))
	require.NoError(t, in.Feed([]byte(payload[35:])))
	in.Finish()

	assert.Equal(t, "Hello", sess.Last().Content)
	assert.Len(t, sess.Messages, 2)
	assert.Equal(t, 2, in.Stats().Applied)
	assert.Equal(t, Done, in.State())
}

func TestIngestor_EveryByteBoundary(t *testing.T) {
	payload := `{"message":{"content":"He"}}` + "\n" + `{"message":{"content":"llo"}}` + "\n"

	for split := 0; split <= len(payload); split++ {
		sess := newSession(session.RoleAssistant)
		in := NewIngestor(sess)
		require.NoError(t, in.Feed([]byte(payload[:split])))
		require.NoError(t, in.Feed([]byte(payload[split:])))
		in.Finish()
		assert.Equal(t, "Hello", sess.Last().Content, "split at %d", split)
	}
}

func TestIngestor_SkipsMalformedLines(t *testing.T) {
	sess := newSession(session.RoleAssistant)
	in := NewIngestor(sess)

	payload := "\n" +
		`{"message":{"content":"A"}}` + "\n" +
		"not json\n" +
		"   \n" +
		`{"done":false}` + "\n" +
		`{"message":{"content":"B"}}` + "\r\n"

	require.NoError(t, in.Feed([]byte(payload)))
	in.Finish()

	assert.Equal(t, "AB", sess.Last().Content)
	stats := in.Stats()
	assert.Equal(t, 2, stats.Applied)
	assert.Equal(t, 1, stats.Invalid)
	assert.Equal(t, 1, stats.Ignored)
}

func TestIngestor_NonAssistantTrailingMessageUntouched(t *testing.T) {
	sess := newSession(session.RoleUser)
	in := NewIngestor(sess)

	require.NoError(t, in.Feed([]byte(`{"message":{"content":"X"}}`+"\n")))
	in.Finish()

	assert.Equal(t, "", sess.Last().Content)
	assert.Equal(t, "question", sess.Messages[0].Content)
	assert.Equal(t, 1, in.Stats().Ignored)
}

func TestIngestor_DiscardsUnterminatedRemainder(t *testing.T) {
	sess := newSession(session.RoleAssistant)
	var done Stats
	in := NewIngestor(sess, WithOnDone(func(s Stats) { done = s }))

	require.NoError(t, in.Feed([]byte(`{"message":{"content":"ok"}}`+"\n"+`{"message":{"content":"lost"}}`)))
	in.Finish()

	assert.Equal(t, "ok", sess.Last().Content)
	assert.True(t, done.Completed)
	assert.Greater(t, done.Discarded, 0)
}

func TestIngestor_FeedAfterFinish(t *testing.T) {
	in := NewIngestor(newSession(session.RoleAssistant))
	in.Finish()
	in.Finish()

	assert.ErrorIs(t, in.Feed([]byte("x\n")), ErrClosed)
}

func TestIngestor_RunReadsToEOF(t *testing.T) {
	sess := newSession(session.RoleAssistant)
	var records []Record
	calledDone := 0
	in := NewIngestor(sess,
		WithOnDone(func(Stats) { calledDone++ }),
		WithOnRecord(func(r Record) { records = append(records, r) }),
	)

	body := &trackingReader{Reader: strings.NewReader(
		`{"message":{"role":"assistant","content":"Hi"}}` + "\n" + `{"done":true}` + "\n",
	)}

	require.NoError(t, in.Run(context.Background(), body))
	assert.Equal(t, "Hi", sess.Last().Content)
	assert.Equal(t, int32(1), body.closed.Load())
	assert.Equal(t, 1, calledDone)
	require.Len(t, records, 2)
	assert.True(t, records[1].Done)
}

func TestIngestor_RunProviderError(t *testing.T) {
	in := NewIngestor(newSession(session.RoleAssistant))
	body := &trackingReader{Reader: strings.NewReader(`{"error":"model not found"}` + "\n")}

	err := in.Run(context.Background(), body)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "model not found")
}

func TestIngestor_RunCancellationReleasesReader(t *testing.T) {
	sess := newSession(session.RoleAssistant)
	calledDone := false
	in := NewIngestor(sess, WithOnDone(func(Stats) { calledDone = true }))
	body := &trackingReader{block: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- in.Run(ctx, body) }()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	assert.Equal(t, int32(1), body.closed.Load())
	assert.False(t, calledDone)
	assert.Equal(t, Done, in.State())
}

func TestIngestor_RunReadError(t *testing.T) {
	in := NewIngestor(newSession(session.RoleAssistant))
	body := &trackingReader{Reader: io.MultiReader(
		strings.NewReader(`{"message":{"content":"a"}}`+"\n"),
		errReader{},
	)}

	err := in.Run(context.Background(), body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int32(1), body.closed.Load())
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestSinkFunc(t *testing.T) {
	var got []string
	in := NewIngestor(SinkFunc(func(f string) bool {
		got = append(got, f)
		return true
	}))

	require.NoError(t, in.Feed([]byte(`{"message":{"content":"x"}}`+"\n"+`{"message":{"content":"y"}}`+"\n")))
	assert.Equal(t, []string{"x", "y"}, got)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "reading", Reading.String())
	assert.Equal(t, "draining", Draining.String())
	assert.Equal(t, "done", Done.String())
}
