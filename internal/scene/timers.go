package scene

import (
	"errors"
	"time"

	"emberhold/server/internal/locks"
)

// ErrSchedulerClosed is returned when a timer cannot be armed because the
// scheduler is shutting down. The caller logs it and moves on; the timer
// stays dark until a restart re-arms it.
var ErrSchedulerClosed = errors.New("scene: scheduler closed")

// CancelTimer cancels one scheduled firing. It reports whether the firing was
// still pending.
type CancelTimer func() bool

// Scheduler arms one-shot delayed callbacks. The runtime builds its
// self-rescheduling timers on top: each firing enqueues a TimerFired message,
// and the handler arms the successor after the tick body completes.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) (CancelTimer, error)
}

// SystemScheduler arms real timers via time.AfterFunc.
type SystemScheduler struct {
	mu     locks.Mutex
	closed bool
}

func NewSystemScheduler() *SystemScheduler {
	return &SystemScheduler{}
}

func (s *SystemScheduler) Schedule(delay time.Duration, fn func()) (CancelTimer, error) {
	if s == nil || fn == nil {
		return nil, ErrSchedulerClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSchedulerClosed
	}
	timer := time.AfterFunc(delay, fn)
	return timer.Stop, nil
}

// Close rejects further scheduling. Already-armed timers are the runtime's to
// cancel.
func (s *SystemScheduler) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
