package provider

import (
	"encoding/json"
	"io"

	"github.com/harun/olmchat/pkg/stream"
)

// emitFunc writes one content fragment to the record stream.
type emitFunc func(content string) error

// pipeRecords runs produce on its own goroutine and exposes what it emits as
// NDJSON records. A produce error becomes a trailing error record. Closing
// the returned reader makes further emits fail, which stops produce.
func pipeRecords(model string, produce func(emit emitFunc) error) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		enc := json.NewEncoder(pw)
		emit := func(content string) error {
			if content == "" {
				return nil
			}
			return enc.Encode(stream.Record{
				Model:   model,
				Message: &stream.RecordMessage{Role: "assistant", Content: content},
			})
		}

		final := stream.Record{Model: model, Done: true}
		if err := produce(emit); err != nil {
			final.Error = err.Error()
		}
		_ = enc.Encode(final)
		pw.Close()
	}()

	return pr
}
