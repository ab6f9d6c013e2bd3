package dispatch

import (
	"errors"
	"time"
)

// Common errors returned by the dispatcher.
var (
	// ErrCancelled marks tasks abandoned because the run was cancelled.
	ErrCancelled = errors.New("dispatch cancelled")

	// ErrRetriesExhausted marks tasks throttled more often than MaxRetries allows.
	ErrRetriesExhausted = errors.New("retry attempts exhausted")

	// ErrInvalidConfig is returned by New for missing collaborators or bad settings.
	ErrInvalidConfig = errors.New("invalid dispatcher configuration")
)

// maxBackoffShift bounds the exponent so the shift cannot overflow.
const maxBackoffShift = 30

// RetryPolicy decides how long to back off after a throttled attempt and
// when to give up.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BackoffBase is doubled per retry: base * 2^retries.
	BackoffBase time.Duration

	// BackoffJitter is the upper bound of the uniform jitter added to each backoff.
	BackoffJitter time.Duration

	// MaxBackoff caps a single backoff. Zero means no cap.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		BackoffBase:   1 * time.Second,
		BackoffJitter: 150 * time.Millisecond,
		MaxBackoff:    60 * time.Second,
	}
}

// Exhausted reports whether retries has passed MaxRetries.
func (p RetryPolicy) Exhausted(retries int) bool {
	return retries > p.MaxRetries
}

// Backoff returns the sleep before the attempt following the given retry
// count. u is a uniform sample in [0,1) scaling the jitter.
func (p RetryPolicy) Backoff(retries int, u float64) time.Duration {
	if retries < 0 {
		retries = 0
	}
	if retries > maxBackoffShift {
		retries = maxBackoffShift
	}

	backoff := p.BackoffBase << uint(retries)
	if p.BackoffBase > 0 && backoff/p.BackoffBase != 1<<uint(retries) {
		backoff = p.MaxBackoff
	}
	backoff += time.Duration(u * float64(p.BackoffJitter))

	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}
	return backoff
}

func (p RetryPolicy) validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if p.BackoffBase < 0 || p.BackoffJitter < 0 || p.MaxBackoff < 0 {
		return errors.New("backoff durations must not be negative")
	}
	return nil
}
