package autosave

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestScheduler(t *testing.T) (*Scheduler, *ManualClock, *atomic.Int32) {
	clock := NewManualClock()
	var saves atomic.Int32
	s := New(func(context.Context) error {
		saves.Add(1)
		return nil
	}, WithClock(clock))
	t.Cleanup(s.Close)
	return s, clock, &saves
}

func TestScheduler_BurstCollapsesToOneSave(t *testing.T) {
	s, clock, saves := setupTestScheduler(t)

	for i := 0; i < 5; i++ {
		s.Schedule()
		clock.Advance(200 * time.Millisecond)
	}
	assert.Equal(t, int32(0), saves.Load())
	assert.True(t, s.Pending())

	clock.Advance(DefaultDelay)
	assert.Equal(t, int32(1), saves.Load())
	assert.False(t, s.Pending())

	clock.Advance(10 * DefaultDelay)
	assert.Equal(t, int32(1), saves.Load())
}

func TestScheduler_TrailingEdge(t *testing.T) {
	s, clock, saves := setupTestScheduler(t)

	s.Schedule()
	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, int32(0), saves.Load())

	s.Schedule()
	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, int32(0), saves.Load())

	clock.Advance(time.Millisecond)
	assert.Equal(t, int32(1), saves.Load())
}

func TestScheduler_FlushNowCancelsPending(t *testing.T) {
	s, clock, saves := setupTestScheduler(t)

	s.Schedule()
	s.Schedule()
	require.NoError(t, s.FlushNow(context.Background()))
	assert.Equal(t, int32(1), saves.Load())
	assert.False(t, s.Pending())

	clock.Advance(5 * DefaultDelay)
	assert.Equal(t, int32(1), saves.Load())
	assert.Equal(t, 0, clock.Pending())
}

func TestScheduler_FlushNowWithoutPending(t *testing.T) {
	s, _, saves := setupTestScheduler(t)

	require.NoError(t, s.FlushNow(context.Background()))
	assert.Equal(t, int32(1), saves.Load())
}

func TestScheduler_Cancel(t *testing.T) {
	s, clock, saves := setupTestScheduler(t)

	s.Schedule()
	s.Cancel()
	clock.Advance(2 * DefaultDelay)
	assert.Equal(t, int32(0), saves.Load())
}

func TestScheduler_Close(t *testing.T) {
	s, clock, saves := setupTestScheduler(t)

	s.Schedule()
	s.Close()
	s.Schedule()
	clock.Advance(2 * DefaultDelay)

	assert.Equal(t, int32(0), saves.Load())
	assert.ErrorIs(t, s.FlushNow(context.Background()), ErrClosed)
}

func TestScheduler_FlushNowReturnsSaveError(t *testing.T) {
	boom := errors.New("disk full")
	s := New(func(context.Context) error { return boom }, WithClock(NewManualClock()))

	assert.ErrorIs(t, s.FlushNow(context.Background()), boom)
}

func TestScheduler_WithDelay(t *testing.T) {
	clock := NewManualClock()
	var saves atomic.Int32
	s := New(func(context.Context) error {
		saves.Add(1)
		return nil
	}, WithClock(clock), WithDelay(50*time.Millisecond))

	assert.Equal(t, 50*time.Millisecond, s.Delay())
	s.Schedule()
	clock.Advance(50 * time.Millisecond)
	assert.Equal(t, int32(1), saves.Load())

	assert.Equal(t, DefaultDelay, New(nil, WithDelay(0)).Delay())
}

func TestScheduler_RealClock(t *testing.T) {
	var saves atomic.Int32
	s := New(func(context.Context) error {
		saves.Add(1)
		return nil
	}, WithDelay(20*time.Millisecond))
	defer s.Close()

	s.Schedule()
	s.Schedule()
	assert.Eventually(t, func() bool { return saves.Load() == 1 }, time.Second, 5*time.Millisecond)
}
