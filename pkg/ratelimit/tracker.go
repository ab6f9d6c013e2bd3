package ratelimit

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	quotaRequestsInWindow = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blueprint_quota_requests_in_window",
		Help: "Requests issued within the current sliding window",
	})

	quotaTokensInWindow = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blueprint_quota_tokens_in_window",
		Help: "Prompt plus completion tokens consumed within the current sliding window",
	})

	quotaWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueprint_quota_waits_total",
		Help: "Total number of quota waits by limiting dimension",
	}, []string{"reason"})

	quotaWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blueprint_quota_wait_seconds",
		Help:    "Jittered duration of each quota wait",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 45, 60},
	})
)

// Wait reasons reported to OnWait and the waits counter.
const (
	ReasonRPM  = "rpm"
	ReasonTPM  = "tpm"
	ReasonBoth = "rpm+tpm"
)

// emptyWindowWait is used when a quota is exceeded but its window holds
// no event whose expiry could be awaited.
const emptyWindowWait = time.Second

// Waiter is the cancellable sleep used by Acquire.
// *cancel.Signal satisfies it.
type Waiter interface {
	IsSet() bool
	WaitOrCancel(d time.Duration) bool
}

// Config holds the quota limits and jitter ranges of a Tracker.
type Config struct {
	// RequestsPerMinute caps attempts per window. <= 0 disables the check.
	RequestsPerMinute int

	// TokensPerMinute caps prompt+completion tokens per window. <= 0 disables the check.
	TokensPerMinute int

	// Window is the sliding window span. Default: 60s
	Window time.Duration

	// DefaultCompletionTokens is the completion buffer used with an empty token window.
	DefaultCompletionTokens int

	// ProceedJitterMin/Max bound the short pause taken after a slot is granted.
	ProceedJitterMin time.Duration
	ProceedJitterMax time.Duration

	// WaitJitterMin/Max bound the extra delay added to each quota wait.
	WaitJitterMin time.Duration
	WaitJitterMax time.Duration

	// OnWait is called before every quota sleep with the jittered duration.
	OnWait func(wait time.Duration, reason string)
}

// DefaultConfig returns a Config with the given limits and default timing.
func DefaultConfig(rpm, tpm int) Config {
	return Config{
		RequestsPerMinute:       rpm,
		TokensPerMinute:         tpm,
		Window:                  DefaultWindow,
		DefaultCompletionTokens: DefaultCompletionTokens,
		ProceedJitterMin:        150 * time.Millisecond,
		ProceedJitterMax:        200 * time.Millisecond,
		WaitJitterMin:           50 * time.Millisecond,
		WaitJitterMax:           250 * time.Millisecond,
	}
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithRand replaces the uniform [0,1) source used for jitter.
func WithRand(r func() float64) Option {
	return func(t *Tracker) { t.rand = r }
}

// Usage is a point-in-time view of the tracker windows.
type Usage struct {
	Requests          int `json:"requests"`
	PromptTokens      int `json:"prompt_tokens"`
	CompletionTokens  int `json:"completion_tokens"`
	Tokens            int `json:"tokens"`
	RequestsPerMinute int `json:"requests_per_minute"`
	TokensPerMinute   int `json:"tokens_per_minute"`
}

// Tracker enforces RPM and TPM quotas over a sliding window.
// Safe for concurrent use; the decision and the attempt record happen
// under one mutex, which is never held across a sleep.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	requests *window
	tokens   *window

	now    func() time.Time
	rand   func() float64
	logger zerolog.Logger
}

// NewTracker creates a new quota tracker.
func NewTracker(cfg Config, logger zerolog.Logger, opts ...Option) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.DefaultCompletionTokens <= 0 {
		cfg.DefaultCompletionTokens = DefaultCompletionTokens
	}

	t := &Tracker{
		cfg:      cfg,
		requests: newWindow(cfg.Window),
		tokens:   newWindow(cfg.Window),
		now:      time.Now,
		rand:     rand.Float64,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Now returns the tracker's current time.
func (t *Tracker) Now() time.Time {
	return t.now()
}

// RecordAttempt appends a request event at now.
func (t *Tracker) RecordAttempt(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests.add(UsageEvent{At: now, Requests: 1})
	t.publishLocked()
}

// RecordUsage appends the token usage of a completed call.
func (t *Tracker) RecordUsage(now time.Time, promptTokens, completionTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens.add(UsageEvent{
		At:               now,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	})
	t.publishLocked()
}

// EstimateWait returns how long to wait before a request carrying
// estimatedTokens prompt tokens may be issued. Zero means proceed.
// It prunes both windows but records nothing and adds no jitter.
func (t *Tracker) EstimateWait(estimatedTokens int) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	wait, _ := t.decideLocked(t.now(), estimatedTokens)
	return wait
}

// decideLocked computes the wait and the limiting dimension.
// Caller must hold t.mu.
func (t *Tracker) decideLocked(now time.Time, estimatedTokens int) (time.Duration, string) {
	t.requests.prune(now)
	t.tokens.prune(now)

	var wait time.Duration
	var reason string

	if t.cfg.RequestsPerMinute > 0 && t.requests.len() >= t.cfg.RequestsPerMinute {
		wait = t.requests.untilExpiry(now, emptyWindowWait)
		reason = ReasonRPM
	}

	if t.cfg.TokensPerMinute > 0 {
		prompt, completion := t.tokens.tokens()
		buffer := t.tokens.averageCompletion(t.cfg.DefaultCompletionTokens)
		aggregate := prompt + completion + estimatedTokens + buffer

		if aggregate > t.cfg.TokensPerMinute {
			var tokenWait time.Duration
			switch {
			case t.tokens.len() > 0:
				tokenWait = t.tokens.untilExpiry(now, emptyWindowWait)
			case t.requests.len() > 0:
				// Calls are in flight whose usage is not recorded yet.
				tokenWait = emptyWindowWait
			default:
				// Nothing in either window can free capacity: a single request
				// larger than the quota goes out alone rather than never.
				t.logger.Warn().
					Int("estimated_tokens", estimatedTokens).
					Int("tokens_per_minute", t.cfg.TokensPerMinute).
					Msg("Request exceeds token quota on its own, issuing with empty window")
			}

			if tokenWait > 0 {
				if reason == ReasonRPM {
					reason = ReasonBoth
				} else {
					reason = ReasonTPM
				}
				if tokenWait > wait {
					wait = tokenWait
				}
			}
		}
	}

	if wait < 0 {
		wait = 0
	}
	return wait, reason
}

// Acquire blocks until one more request fits the quotas, records the
// attempt and returns after a short proceed jitter.
// ok is false when w was set before or during any sleep; in that case
// the caller must not issue the request.
func (t *Tracker) Acquire(w Waiter, estimatedTokens int) (waited time.Duration, ok bool) {
	for {
		if w.IsSet() {
			return waited, false
		}

		t.mu.Lock()
		now := t.now()
		wait, reason := t.decideLocked(now, estimatedTokens)

		if wait == 0 {
			t.requests.add(UsageEvent{At: now, Requests: 1})
			t.publishLocked()
			jitter := t.jitter(t.cfg.ProceedJitterMin, t.cfg.ProceedJitterMax)
			t.mu.Unlock()

			if jitter > 0 && !w.WaitOrCancel(jitter) {
				return waited, false
			}
			return waited, true
		}

		sleep := wait + t.jitter(t.cfg.WaitJitterMin, t.cfg.WaitJitterMax)
		requests := t.requests.len()
		t.mu.Unlock()

		quotaWaitsTotal.WithLabelValues(reason).Inc()
		quotaWaitSeconds.Observe(sleep.Seconds())

		t.logger.Debug().
			Str("reason", reason).
			Int("requests_in_window", requests).
			Int("estimated_tokens", estimatedTokens).
			Dur("wait", sleep).
			Msg("Quota exhausted, waiting for window to advance")

		if t.cfg.OnWait != nil {
			t.cfg.OnWait(sleep, reason)
		}

		waited += sleep
		if !w.WaitOrCancel(sleep) {
			return waited, false
		}
	}
}

// Usage prunes the windows and returns their current totals.
func (t *Tracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.requests.prune(now)
	t.tokens.prune(now)
	t.publishLocked()

	prompt, completion := t.tokens.tokens()
	return Usage{
		Requests:          t.requests.len(),
		PromptTokens:      prompt,
		CompletionTokens:  completion,
		Tokens:            prompt + completion,
		RequestsPerMinute: t.cfg.RequestsPerMinute,
		TokensPerMinute:   t.cfg.TokensPerMinute,
	}
}

// publishLocked mirrors window totals into the gauges.
func (t *Tracker) publishLocked() {
	prompt, completion := t.tokens.tokens()
	quotaRequestsInWindow.Set(float64(t.requests.len()))
	quotaTokensInWindow.Set(float64(prompt + completion))
}

// jitter returns a uniform duration in [lo, hi).
func (t *Tracker) jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(t.rand()*float64(hi-lo))
}
