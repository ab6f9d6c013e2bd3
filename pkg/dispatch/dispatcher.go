// Package dispatch runs a batch of tasks against a rate-limited endpoint
// with a fixed worker pool, quota pacing and retry on throttling.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/narrative-blueprint/pkg/cancel"
	"github.com/Sternrassler/narrative-blueprint/pkg/endpoint"
	"github.com/Sternrassler/narrative-blueprint/pkg/ratelimit"
)

// DefaultConcurrency is the worker count used when Config.Concurrency is zero.
const DefaultConcurrency = 30

// MetricTokensInWindow is the progress metric holding the tokens used in the current window.
const MetricTokensInWindow = "tokens/60s"

// Quota paces attempts. *ratelimit.Tracker satisfies it.
type Quota interface {
	Acquire(w ratelimit.Waiter, estimatedTokens int) (time.Duration, bool)
	RecordUsage(now time.Time, promptTokens, completionTokens int)
	Usage() ratelimit.Usage
	Now() time.Time
}

// Sink persists successful responses. *store.Manager and *store.MemoryStore satisfy it.
type Sink interface {
	Store(ctx context.Context, taskID string, resp *endpoint.Response) error
}

// Progress receives observational updates. *progress.Reporter satisfies it.
type Progress interface {
	SetDescription(desc string)
	SetMetric(name string, value any)
	SetTotal(total int)
	Increment()
}

// Signal is the run's cancellation signal. *cancel.Signal satisfies it.
type Signal interface {
	Set()
	IsSet() bool
	Done() <-chan struct{}
	WaitOrCancel(d time.Duration) bool
}

// Config holds dispatcher settings.
type Config struct {
	// Concurrency bounds in-flight calls. Default: 30
	Concurrency int

	// Retry governs backoff after throttled attempts.
	Retry RetryPolicy

	// QueueSize is the buffer between the feeder and the workers.
	// Default: 2 * Concurrency
	QueueSize int
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: DefaultConcurrency,
		Retry:       DefaultRetryPolicy(),
	}
}

// Deps are the dispatcher's collaborators.
type Deps struct {
	Endpoint endpoint.Endpoint // required
	Quota    Quota             // required
	Sink     Sink              // required

	// Progress is optional.
	Progress Progress

	// Signal is optional; a fresh signal is created per run when nil.
	Signal Signal

	// Logger receives per-attempt logs.
	Logger zerolog.Logger

	// Diagnostics receives one entry per failed or exhausted task. Optional.
	Diagnostics *zerolog.Logger
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithRand replaces the uniform [0,1) source used for backoff jitter.
func WithRand(r func() float64) Option {
	return func(d *Dispatcher) { d.rand = r }
}

// Dispatcher turns tasks into paced, retried endpoint calls.
type Dispatcher struct {
	cfg         Config
	endpoint    endpoint.Endpoint
	quota       Quota
	sink        Sink
	progress    Progress
	signal      Signal
	logger      zerolog.Logger
	diagnostics zerolog.Logger
	rand        func() float64
}

// New validates cfg and deps and returns a Dispatcher.
func New(cfg Config, deps Deps, opts ...Option) (*Dispatcher, error) {
	if deps.Endpoint == nil {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	if deps.Quota == nil {
		return nil, fmt.Errorf("%w: quota tracker is required", ErrInvalidConfig)
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("%w: sink is required", ErrInvalidConfig)
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("%w: concurrency must not be negative, got %d", ErrInvalidConfig, cfg.Concurrency)
	}
	if err := cfg.Retry.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 2 * cfg.Concurrency
	}

	d := &Dispatcher{
		cfg:         cfg,
		endpoint:    deps.Endpoint,
		quota:       deps.Quota,
		sink:        deps.Sink,
		progress:    deps.Progress,
		signal:      deps.Signal,
		logger:      deps.Logger,
		diagnostics: zerolog.Nop(),
		rand:        rand.Float64,
	}
	if d.progress == nil {
		d.progress = nopProgress{}
	}
	if deps.Diagnostics != nil {
		d.diagnostics = *deps.Diagnostics
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run dispatches tasks and blocks until every task is terminal.
// Cancelling ctx, or setting the signal, stops new attempts; calls already
// issued are allowed to finish. Task failures are reported in the Summary,
// never as the returned error.
func (d *Dispatcher) Run(ctx context.Context, tasks []Task) (*Summary, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: nil context", ErrInvalidConfig)
	}

	sig := d.signal
	if sig == nil {
		sig = cancel.New()
	}
	stop := bindContext(ctx, sig)
	defer stop()

	runID := uuid.NewString()
	logger := d.logger.With().Str("run_id", runID).Logger()
	start := time.Now()

	d.progress.SetTotal(len(tasks))
	logger.Info().
		Int("tasks", len(tasks)).
		Int("concurrency", d.cfg.Concurrency).
		Int("max_retries", d.cfg.Retry.MaxRetries).
		Msg("Dispatch started")

	queue := make(chan Task, d.cfg.QueueSize)
	outcomes := make(chan Outcome, d.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				outcomes <- d.process(ctx, logger, sig, task)
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, task := range tasks {
			queue <- task
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	summary := &Summary{RunID: runID, Total: len(tasks)}
	for o := range outcomes {
		summary.add(o)
		d.progress.Increment()
		dispatchTasksTotal.WithLabelValues(outcomeLabel(o)).Inc()
		dispatchTaskDuration.Observe(o.Elapsed.Seconds())
	}
	summary.Elapsed = time.Since(start)

	logger.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("exhausted", summary.Exhausted).
		Int("cancelled", summary.Cancelled).
		Int("attempts", summary.Attempts).
		Dur("elapsed", summary.Elapsed).
		Bool("interrupted", sig.IsSet()).
		Msg("Dispatch finished")

	return summary, nil
}

// process drives one task through the retry state machine.
func (d *Dispatcher) process(ctx context.Context, logger zerolog.Logger, sig Signal, task Task) (out Outcome) {
	rs := &RetryState{Task: task, State: StatePending}
	start := time.Now()
	log := logger.With().Str("task_id", task.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			d.diagnostics.Error().
				Str("task_id", task.ID).
				Int("attempts", rs.Attempts).
				Str("stack", string(debug.Stack())).
				Err(err).
				Msg("Task panicked")
			log.Error().Err(err).Msg("Task panicked")
			rs.State = StateAbandoned
			rs.LastErr = err
			out = Outcome{TaskID: task.ID, State: rs.State, Attempts: rs.Attempts, Err: err}
		}
		out.Elapsed = time.Since(start)
	}()

	callCtx := context.WithoutCancel(ctx)

	for {
		if sig.IsSet() {
			return d.cancelled(rs)
		}
		rs.State = StateRunning

		cost := task.EstimatedCost
		if cost <= 0 {
			cost = d.endpoint.EstimateTokens(task.Payload)
		}
		if _, ok := d.quota.Acquire(sig, cost); !ok {
			return d.cancelled(rs)
		}

		rs.Attempts++
		d.progress.SetDescription(fmt.Sprintf("[RUNNING] prompt #%s", task.ID))
		log.Debug().Int("attempt", rs.Attempts).Int("estimated_tokens", cost).Msg("Calling endpoint")

		resp, err := d.call(callCtx, task.Payload)
		if err == nil {
			dispatchAttemptsTotal.WithLabelValues("success").Inc()
			d.quota.RecordUsage(d.quota.Now(), resp.PromptTokens, resp.CompletionTokens)
			d.progress.SetMetric(MetricTokensInWindow, d.quota.Usage().Tokens)

			if err := d.sink.Store(callCtx, task.ID, resp); err != nil {
				return d.abandon(log, rs, fmt.Errorf("store result: %w", err))
			}

			rs.State = StateSucceeded
			log.Debug().
				Int("attempt", rs.Attempts).
				Int("prompt_tokens", resp.PromptTokens).
				Int("completion_tokens", resp.CompletionTokens).
				Msg("Task succeeded")
			return Outcome{TaskID: task.ID, State: rs.State, Attempts: rs.Attempts}
		}

		if !endpoint.IsThrottled(err) {
			dispatchAttemptsTotal.WithLabelValues("failed").Inc()
			return d.abandon(log, rs, err)
		}

		dispatchAttemptsTotal.WithLabelValues("throttled").Inc()
		rs.State = StateThrottled
		rs.LastErr = err
		rs.Retries++

		if d.cfg.Retry.Exhausted(rs.Retries) {
			rs.State = StateExhausted
			exhausted := fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, rs.Attempts, err)
			d.progress.SetDescription(fmt.Sprintf("[FAILED] prompt #%s exceeded retries", task.ID))
			d.diagnostics.Error().
				Str("task_id", task.ID).
				Int("attempts", rs.Attempts).
				Str("error_class", string(endpoint.ClassOf(err))).
				Err(err).
				Msg("Retries exhausted")
			log.Warn().Int("attempts", rs.Attempts).Err(err).Msg("Retries exhausted")
			return Outcome{TaskID: task.ID, State: rs.State, Attempts: rs.Attempts, Err: exhausted}
		}

		backoff := d.cfg.Retry.Backoff(rs.Retries, d.rand())
		rs.State = StateBackoff
		dispatchBackoffSeconds.Observe(backoff.Seconds())
		d.progress.SetDescription(fmt.Sprintf("[RETRY %d] prompt #%s rate limited, sleeping %.2fs", rs.Retries, task.ID, backoff.Seconds()))
		log.Warn().
			Int("retry", rs.Retries).
			Dur("backoff", backoff).
			Err(err).
			Msg("Throttled, backing off")

		if !sig.WaitOrCancel(backoff) {
			return d.cancelled(rs)
		}
	}
}

func (d *Dispatcher) call(ctx context.Context, payload endpoint.Payload) (*endpoint.Response, error) {
	dispatchInFlight.Inc()
	defer dispatchInFlight.Dec()

	resp, err := d.endpoint.Call(ctx, payload)
	if err == nil && resp == nil {
		err = errors.New("endpoint returned no response")
	}
	return resp, err
}

func (d *Dispatcher) cancelled(rs *RetryState) Outcome {
	rs.State = StateAbandoned
	rs.LastErr = ErrCancelled
	return Outcome{TaskID: rs.Task.ID, State: rs.State, Attempts: rs.Attempts, Err: ErrCancelled}
}

// abandon records a non-retryable failure in the logs and the diagnostics file.
func (d *Dispatcher) abandon(log zerolog.Logger, rs *RetryState, err error) Outcome {
	rs.State = StateAbandoned
	rs.LastErr = err

	class := endpoint.ClassOf(err)
	if class == "" {
		class = endpoint.ErrorClassFailed
	}
	chain := errorChain(err)

	d.progress.SetDescription(fmt.Sprintf("[ERROR] prompt #%s: %v", rs.Task.ID, err))
	log.Error().
		Int("attempt", rs.Attempts).
		Str("error_class", string(class)).
		Str("error_type", fmt.Sprintf("%T", err)).
		Strs("error_chain", chain).
		Err(err).
		Msg("Task failed")
	d.diagnostics.Error().
		Str("task_id", rs.Task.ID).
		Int("attempts", rs.Attempts).
		Str("error_class", string(class)).
		Str("error_type", fmt.Sprintf("%T", err)).
		Str("error_chain", strings.Join(chain, " <- ")).
		Str("stack", string(debug.Stack())).
		Err(err).
		Msg("Task abandoned")

	return Outcome{TaskID: rs.Task.ID, State: rs.State, Attempts: rs.Attempts, Err: err}
}

// DescribeWait formats a quota wait for the progress description.
// Suitable for ratelimit.Config.OnWait.
func DescribeWait(wait time.Duration, reason string) string {
	limit := "RPM/TPM"
	switch reason {
	case ratelimit.ReasonRPM:
		limit = "RPM"
	case ratelimit.ReasonTPM:
		limit = "TPM"
	}
	return fmt.Sprintf("[WAITING] Sleeping %.2fs (%s limit)", wait.Seconds(), limit)
}

// errorChain lists the dynamic types of err and everything it wraps.
func errorChain(err error) []string {
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	return chain
}

func outcomeLabel(o Outcome) string {
	switch {
	case o.State == StateSucceeded:
		return "succeeded"
	case o.State == StateExhausted:
		return "exhausted"
	case o.Cancelled():
		return "cancelled"
	default:
		return "failed"
	}
}

// bindContext sets sig once ctx is done. The returned func releases the watcher.
func bindContext(ctx context.Context, sig Signal) (stop func()) {
	if s, ok := sig.(*cancel.Signal); ok {
		return cancel.BindContext(ctx, s)
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case <-ctx.Done():
			sig.Set()
		case <-done:
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

type nopProgress struct{}

func (nopProgress) SetDescription(string) {}
func (nopProgress) SetMetric(string, any) {}
func (nopProgress) SetTotal(int)          {}
func (nopProgress) Increment()            {}
