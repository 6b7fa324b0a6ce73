package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/harun/olmchat/pkg/naming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, string) {
	tempDir := t.TempDir()
	store, err := NewStore(tempDir)
	require.NoError(t, err)
	return store, tempDir
}

func draftWith(createdAt int64, contents ...string) Draft {
	now := time.UnixMilli(createdAt)
	messages := []Message{NewMessage(RoleAssistant, DefaultGreeting, now)}
	for _, c := range contents {
		messages = append(messages, NewMessage(RoleUser, c, now))
	}
	return Draft{CreatedAt: createdAt, Messages: messages}
}

func readRaw(t *testing.T, path string) Session {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var s Session
	require.NoError(t, json.Unmarshal(data, &s))
	return s
}

func TestStore_CreateWritesFile(t *testing.T) {
	store, dir := setupTestStore(t)

	created, err := store.Create(context.Background(), draftWith(1700000000000, "Hello there"))
	require.NoError(t, err)

	assert.Equal(t, "Hello_t", created.SessionName)
	assert.Equal(t, filepath.Join(dir, "Hello_t.olm"), created.FilePath)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1700000000000), created.LastUpdated)

	onDisk := readRaw(t, created.FilePath)
	assert.Equal(t, created.ID, onDisk.ID)
	assert.Len(t, onDisk.Messages, 2)
	assert.Equal(t, "Hello there", onDisk.Messages[1].Content)
}

func TestStore_CreateFallbackTitle(t *testing.T) {
	store, _ := setupTestStore(t)

	created, err := store.Create(context.Background(), draftWith(1700000000000))
	require.NoError(t, err)
	assert.Equal(t, naming.FallbackLabel, created.SessionName)
}

func TestStore_CreateSameTitleTwice(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, draftWith(1700000000000, "hello"))
	require.NoError(t, err)
	second, err := store.Create(ctx, draftWith(1700000000001, "hello"))
	require.NoError(t, err)

	assert.Equal(t, "hello", first.SessionName)
	assert.Regexp(t, regexp.MustCompile(`^hello_[a-z]{2}$`), second.SessionName)
	assert.NotEqual(t, first.FilePath, second.FilePath)
	assert.NotEqual(t, first.ID, second.ID)

	assert.FileExists(t, first.FilePath)
	assert.FileExists(t, second.FilePath)
}

func TestStore_CreateValidation(t *testing.T) {
	store, dir := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		draft Draft
	}{
		{"missing createdAt", Draft{Messages: []Message{{Role: RoleUser, Content: "x"}}}},
		{"negative createdAt", Draft{CreatedAt: -1, Messages: []Message{{Role: RoleUser, Content: "x"}}}},
		{"no messages", Draft{CreatedAt: 1}},
		{"bad role", Draft{CreatedAt: 1, Messages: []Message{{Role: "system", Content: "x"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(ctx, tt.draft)
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_CreateNameExhausted(t *testing.T) {
	dir := t.TempDir()
	resolver := naming.NewResolver(Extension).WithSuffixFunc(func() (string, error) {
		return "zz", nil
	})
	store, err := NewStore(dir, WithResolver(resolver))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Create(ctx, draftWith(1, "dup"))
	require.NoError(t, err)
	_, err = store.Create(ctx, draftWith(2, "dup"))
	require.NoError(t, err)

	_, err = store.Create(ctx, draftWith(3, "dup"))
	assert.True(t, errors.Is(err, ErrNameResolutionExhausted), "got %v", err)
}

func TestStore_SaveAndReadRoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, draftWith(1700000000000, "topic"))
	require.NoError(t, err)

	created.Messages = append(created.Messages, NewMessage(RoleAssistant, "reply", time.UnixMilli(1700000000500)))
	created.LastUpdated = 1700000000500

	result, err := store.Save(ctx, created)
	require.NoError(t, err)
	assert.False(t, result.Renamed)
	assert.Equal(t, created.FilePath, result.NewPath)

	loaded, err := store.Read(ctx, created.FilePath)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, int64(1700000000500), loaded.LastUpdated)
	require.Len(t, loaded.Messages, 3)
	assert.Equal(t, "reply", loaded.Messages[2].Content)
}

func TestStore_SaveRenamesPlaceholder(t *testing.T) {
	store, dir := setupTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, draftWith(1700000000000))
	require.NoError(t, err)
	require.Equal(t, naming.FallbackLabel, created.SessionName)
	oldPath := created.FilePath

	created.Messages = append(created.Messages, NewMessage(RoleUser, "Rust ownership", time.Now()))

	result, err := store.Save(ctx, created)
	require.NoError(t, err)
	assert.True(t, result.Renamed)
	assert.Equal(t, filepath.Join(dir, "Rust_ow.olm"), result.NewPath)
	assert.Equal(t, "Rust_ow", created.SessionName)

	assert.NoFileExists(t, oldPath)
	assert.Len(t, readRaw(t, result.NewPath).Messages, 2)
}

func TestStore_SavePlaceholderWithoutUserMessage(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, draftWith(1700000000000))
	require.NoError(t, err)

	result, err := store.Save(ctx, created)
	require.NoError(t, err)
	assert.False(t, result.Renamed)
	assert.Equal(t, created.FilePath, result.NewPath)
	assert.FileExists(t, result.NewPath)
}

func TestStore_SaveNameFromFilePath(t *testing.T) {
	store, dir := setupTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, draftWith(1, "keep"))
	require.NoError(t, err)

	sess := created.Clone()
	sess.SessionName = ""

	result, err := store.Save(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "keep.olm"), result.NewPath)
	assert.Equal(t, "keep", sess.SessionName)
}

func TestStore_SaveValidation(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, nil)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = store.Save(ctx, &Session{SessionName: "x"})
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = store.Save(ctx, &Session{
		SessionName: "../escape",
		Messages:    []Message{{Role: RoleUser, Content: "x"}},
	})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestStore_ListSortsAndSkipsCorrupt(t *testing.T) {
	store, dir := setupTestStore(t)
	ctx := context.Background()

	older, err := store.Create(ctx, draftWith(1000, "older"))
	require.NoError(t, err)
	newer, err := store.Create(ctx, draftWith(2000, "newer"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.olm"), []byte("{not json"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0600))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)
	assert.Equal(t, older.ID, sessions[1].ID)
}

func TestStore_ListFillsMissingFields(t *testing.T) {
	store, dir := setupTestStore(t)

	raw := `{"sessionName":"legacy","filePath":"/elsewhere/legacy.olm","createdAt":5,"lastUpdated":5,` +
		`"messages":[{"role":"assistant","content":"hi"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "legacy.olm"), []byte(raw), 0600))

	sessions, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "legacy", sessions[0].ID)
	assert.Equal(t, filepath.Join(dir, "legacy.olm"), sessions[0].FilePath)
}

func TestStore_ReadDoubleEncoded(t *testing.T) {
	store, dir := setupTestStore(t)

	inner := `{"id":"abc","sessionName":"wrapped","createdAt":1,"lastUpdated":1,"messages":[{"role":"user","content":"q"}]}`
	outer, err := json.Marshal(inner)
	require.NoError(t, err)
	path := filepath.Join(dir, "wrapped.olm")
	require.NoError(t, os.WriteFile(path, outer, 0600))

	loaded, err := store.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "abc", loaded.ID)
	assert.Equal(t, "q", loaded.Messages[0].Content)
}

func TestStore_ReadErrors(t *testing.T) {
	store, dir := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Read(ctx, "")
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = store.Read(ctx, filepath.Join(dir, "missing.olm"))
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.Read(ctx, "/etc/passwd")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.Read(ctx, filepath.Join(dir, "..", "outside.olm"))
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.olm"), []byte("nope"), 0600))
	_, err = store.Read(ctx, filepath.Join(dir, "bad.olm"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ReadRelativeName(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, draftWith(1, "rel"))
	require.NoError(t, err)

	loaded, err := store.Read(ctx, "rel.olm")
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	store, dir := setupTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, draftWith(1, "tmp"))
	require.NoError(t, err)
	_, err = store.Save(ctx, created)
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
