package session

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Audit(t *testing.T) {
	store, dir := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, draftWith(1, "one"))
	require.NoError(t, err)
	_, err = store.Create(ctx, draftWith(2, "two"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.olm"), []byte("]"), 0600))

	report, err := store.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Valid)
	assert.Equal(t, 1, report.Corrupt)
	assert.Equal(t, []string{filepath.Join(dir, "junk.olm")}, report.Files)

	// Audit is read-only.
	assert.FileExists(t, filepath.Join(dir, "junk.olm"))
}

func TestNewAuditor_InvalidSchedule(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := NewAuditor(store, "not a schedule", zerolog.Nop())
	assert.Error(t, err)
}

func TestAuditor_StartStop(t *testing.T) {
	store, _ := setupTestStore(t)

	auditor, err := NewAuditor(store, "@every 1h", zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, auditor.Start())
	assert.Error(t, auditor.Start())

	auditor.RunOnce()
	auditor.Stop()
	auditor.Stop()
}

func TestWatcher_NotifiesOnSessionFiles(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32

	w, err := NewWatcher(dir, zerolog.Nop(), func() { calls.Add(1) })
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.olm"), []byte("{}"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.olm"), []byte("{}"), 0600))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(2 * DefaultWatchDebounce)
	assert.Equal(t, int32(1), calls.Load())
}
