// Package stream turns a newline-delimited JSON chat stream into content
// deltas applied to the trailing assistant message of a conversation.
//
// Invariants:
//
//   - Records are applied strictly in arrival order.
//   - Only the trailing message is ever mutated, and only when its role is
//     assistant; records arriving while a user message is last are dropped.
//   - A malformed line is logged and skipped; it never aborts the stream.
//   - Bytes after the last newline when the stream ends are discarded.
//   - Run releases the reader on every exit path.
//
// Usage:
//
//	in := stream.NewIngestor(sess, stream.WithLogger(logger))
//	if err := in.Run(ctx, body); err != nil {
//	    return err
//	}
package stream
