// Package session persists chat sessions as one pretty-printed JSON file per session.
//
// Invariants:
// - A stored session always has at least one message.
// - The file name is the session name plus Extension; the store re-derives
//   filePath from sessionName on every create and save so the two never drift.
// - Session ids are unique among the sessions this store has seen.
// - There is no cross-request locking: concurrent creates that derive the same
//   title may race between the existence check and the write (last writer wins).
//
// Usage:
//
//	store, _ := session.NewStore("/tmp/olmchat/sessions")
//	created, _ := store.Create(ctx, session.NewDraft("hi there", time.Now()))
//	created.Messages = append(created.Messages, session.NewMessage(session.RoleUser, "hello", time.Now()))
//	result, _ := store.Save(ctx, created)
//	_ = result.Renamed
package session
