// Package autosave debounces persistence requests so that a burst of
// mutations produces one write, and forces a write when a stream completes.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harun/olmchat/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultDelay is the trailing debounce window.
const DefaultDelay = 1000 * time.Millisecond

// ErrClosed is returned by FlushNow after Close.
var ErrClosed = errors.New("autosave scheduler closed")

// SaveFunc persists the current state. It should be a no-op when there is
// nothing to save.
type SaveFunc func(ctx context.Context) error

// Scheduler runs SaveFunc after the most recent Schedule call has been quiet
// for the configured delay, or immediately on FlushNow.
type Scheduler struct {
	save   SaveFunc
	delay  time.Duration
	clock  Clock
	logger zerolog.Logger

	mu     sync.Mutex
	timer  Timer
	gen    uint64
	closed bool

	// saveMu serializes saves issued by this scheduler.
	saveMu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDelay sets the debounce window. Non-positive values keep the default.
func WithDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithClock replaces the timer source.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger.With().Str("component", "autosave").Logger()
	}
}

// New creates a scheduler around save.
func New(save SaveFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		save:   save,
		delay:  DefaultDelay,
		clock:  RealClock{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Delay returns the debounce window.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Schedule resets the pending timer to fire after the delay.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.stopLocked()
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.delay, func() { s.fire(gen) })
}

// FlushNow cancels any pending timer and saves synchronously.
func (s *Scheduler) FlushNow(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.stopLocked()
	s.mu.Unlock()

	return s.run(ctx, "flush")
}

// Cancel drops the pending timer, if any, without saving.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Close cancels the pending timer and rejects further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.closed = true
}

// Pending reports whether a debounced save is waiting to fire.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// stopLocked stops the current timer and invalidates its callback in case
// it has already started running.
func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	if err := s.run(context.Background(), "debounce"); err != nil {
		s.logger.Warn().Err(err).Msg("Debounced save failed")
	}
}

func (s *Scheduler) run(ctx context.Context, trigger string) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	start := time.Now()
	err := s.save(ctx)
	observability.RecordAutosave(trigger, err == nil)

	s.logger.Debug().
		Str("trigger", trigger).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("Autosave run")

	return err
}
