package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/harun/olmchat/internal/observability"
	"github.com/rs/zerolog"
)

const readSize = 4096

var (
	// ErrClosed is returned by Feed once the ingestor has left Reading.
	ErrClosed = errors.New("stream ingestor closed")

	// ErrProvider wraps an error record emitted by the provider mid-stream.
	ErrProvider = errors.New("provider reported an error")
)

// State is the ingestor lifecycle.
type State int

const (
	Reading State = iota
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case Reading:
		return "reading"
	case Draining:
		return "draining"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Record is one line of the stream.
type Record struct {
	Model   string         `json:"model,omitempty"`
	Message *RecordMessage `json:"message,omitempty"`
	Done    bool           `json:"done"`
	Error   string         `json:"error,omitempty"`
}

// RecordMessage carries the content fragment of a record.
type RecordMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// Sink receives content fragments. It returns false when the fragment was
// not applied because the trailing message is not an assistant message.
type Sink interface {
	AppendAssistantDelta(fragment string) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(fragment string) bool

func (f SinkFunc) AppendAssistantDelta(fragment string) bool { return f(fragment) }

// Stats counts what happened to each line.
type Stats struct {
	Applied   int
	Ignored   int
	Invalid   int
	Discarded int
	Completed bool
}

// Ingestor buffers chunks, splits complete lines and applies their content.
type Ingestor struct {
	sink     Sink
	logger   zerolog.Logger
	onDone   func(Stats)
	onRecord func(Record)

	mu          sync.Mutex
	state       State
	buf         []byte
	stats       Stats
	providerErr string
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets the ingestor logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(in *Ingestor) {
		in.logger = logger.With().Str("component", "stream").Logger()
	}
}

// WithOnDone registers a hook called once after the stream ends normally.
func WithOnDone(fn func(Stats)) Option {
	return func(in *Ingestor) { in.onDone = fn }
}

// WithOnRecord registers a hook called for every parsed record, after its
// content has been applied. The hook runs with the ingestor locked and must
// not call back into it.
func WithOnRecord(fn func(Record)) Option {
	return func(in *Ingestor) { in.onRecord = fn }
}

// NewIngestor creates an ingestor in the Reading state.
func NewIngestor(sink Sink, opts ...Option) *Ingestor {
	in := &Ingestor{
		sink:   sink,
		logger: zerolog.Nop(),
		state:  Reading,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// State returns the current lifecycle state.
func (in *Ingestor) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Stats returns a snapshot of the line counters.
func (in *Ingestor) Stats() Stats {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stats
}

// Feed appends chunk to the buffer and applies every complete line.
func (in *Ingestor) Feed(chunk []byte) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state != Reading {
		return ErrClosed
	}

	in.buf = append(in.buf, chunk...)
	for {
		i := bytes.IndexByte(in.buf, '\n')
		if i < 0 {
			break
		}
		in.applyLine(in.buf[:i])
		in.buf = in.buf[i+1:]
	}
	if len(in.buf) == 0 {
		in.buf = nil
	}
	return nil
}

// Finish ends the stream: any unterminated remainder is discarded and the
// OnDone hook runs. Calling Finish more than once is a no-op.
func (in *Ingestor) Finish() {
	in.mu.Lock()
	if in.state != Reading {
		in.mu.Unlock()
		return
	}

	in.state = Draining
	if rest := bytes.TrimSpace(in.buf); len(rest) > 0 {
		in.stats.Discarded = len(rest)
		in.logger.Debug().Int("bytes", len(rest)).Msg("Discarding unterminated stream remainder")
	}
	in.buf = nil
	in.stats.Completed = true
	in.state = Done
	stats := in.stats
	onDone := in.onDone
	in.mu.Unlock()

	in.logger.Debug().
		Int("applied", stats.Applied).
		Int("ignored", stats.Ignored).
		Int("invalid", stats.Invalid).
		Msg("Stream complete")

	if onDone != nil {
		onDone(stats)
	}
}

// abort moves straight to Done without running the OnDone hook.
func (in *Ingestor) abort() {
	in.mu.Lock()
	in.state = Done
	in.buf = nil
	in.mu.Unlock()
}

// Run reads body until EOF, cancellation or a read error. The body is
// closed on every path, and cancelling ctx unblocks a pending read.
func (in *Ingestor) Run(ctx context.Context, body io.ReadCloser) error {
	var closeOnce sync.Once
	release := func() {
		closeOnce.Do(func() {
			if err := body.Close(); err != nil {
				in.logger.Debug().Err(err).Msg("Failed to close stream body")
			}
		})
	}
	defer release()

	stop := context.AfterFunc(ctx, release)
	defer stop()

	chunk := make([]byte, readSize)
	for {
		if err := ctx.Err(); err != nil {
			in.abort()
			return err
		}

		n, err := body.Read(chunk)
		if n > 0 && ctx.Err() == nil {
			if ferr := in.Feed(chunk[:n]); ferr != nil {
				return ferr
			}
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			if ctxErr := ctx.Err(); ctxErr != nil {
				in.abort()
				return ctxErr
			}
			in.Finish()
			return in.err()
		default:
			in.abort()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}
	}
}

func (in *Ingestor) err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.providerErr == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrProvider, in.providerErr)
}

// applyLine must be called with mu held.
func (in *Ingestor) applyLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		in.stats.Invalid++
		observability.RecordStreamRecord("invalid")
		in.logger.Warn().Err(err).Str("line", truncate(line, 120)).Msg("Skipping malformed stream line")
		return
	}

	if rec.Error != "" {
		in.providerErr = rec.Error
		in.logger.Warn().Str("error", rec.Error).Msg("Provider reported an error")
	}

	switch {
	case rec.Message == nil || rec.Message.Content == "":
		in.stats.Ignored++
		observability.RecordStreamRecord("ignored")
	case in.sink.AppendAssistantDelta(rec.Message.Content):
		in.stats.Applied++
		observability.RecordStreamRecord("applied")
	default:
		in.stats.Ignored++
		observability.RecordStreamRecord("ignored")
	}

	if in.onRecord != nil {
		in.onRecord(rec)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
