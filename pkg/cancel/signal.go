// Package cancel provides the run-wide cancellation signal shared by the
// dispatcher, the quota tracker and the retry loop.
//
// A Signal is set at most once and never cleared. Every sleep in the
// dispatch path goes through WaitOrCancel so that an interrupt wakes
// sleepers immediately instead of after their full delay.
package cancel

import (
	"sync"
	"time"
)

// Signal is a write-once cancellation flag.
// The zero value is not usable; create one with New.
type Signal struct {
	once sync.Once
	done chan struct{}
}

// New creates an unset signal.
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Set marks the signal. Calling Set more than once is a no-op.
func (s *Signal) Set() {
	s.once.Do(func() {
		close(s.done)
	})
}

// IsSet reports whether Set has been called.
func (s *Signal) IsSet() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// WaitOrCancel sleeps for d or until the signal is set, whichever comes first.
// Returns true if the full duration elapsed, false if interrupted.
func (s *Signal) WaitOrCancel(d time.Duration) bool {
	if s.IsSet() {
		return false
	}
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-s.done:
		return false
	case <-timer.C:
		return true
	}
}
