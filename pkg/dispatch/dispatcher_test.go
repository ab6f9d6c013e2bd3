package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/narrative-blueprint/internal/testutil"
	"github.com/Sternrassler/narrative-blueprint/pkg/cancel"
	"github.com/Sternrassler/narrative-blueprint/pkg/endpoint"
	"github.com/Sternrassler/narrative-blueprint/pkg/progress"
	"github.com/Sternrassler/narrative-blueprint/pkg/ratelimit"
	"github.com/Sternrassler/narrative-blueprint/pkg/store"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSignal records sleeps instead of sleeping. When clock is set,
// sleeps advance it. onSleep may interrupt a sleep by returning false.
type fakeSignal struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}

	clock   *fakeClock
	onSleep func(d time.Duration) bool

	mu     sync.Mutex
	sleeps []time.Duration
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{done: make(chan struct{})}
}

func (s *fakeSignal) Set() {
	s.set.Store(true)
	s.once.Do(func() { close(s.done) })
}

func (s *fakeSignal) IsSet() bool { return s.set.Load() }

func (s *fakeSignal) Done() <-chan struct{} { return s.done }

func (s *fakeSignal) WaitOrCancel(d time.Duration) bool {
	if s.IsSet() {
		return false
	}
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	if s.onSleep != nil && !s.onSleep(d) {
		return false
	}
	if s.clock != nil {
		s.clock.Advance(d)
	}
	return true
}

func (s *fakeSignal) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// scriptedEndpoint answers according to fn. Tasks are identified by the
// last message of their payload.
type scriptedEndpoint struct {
	endpoint.TokenEstimator

	mu       sync.Mutex
	calls    map[string]int
	total    int
	inFlight int
	maxIn    int

	delay time.Duration
	fn    func(id string, attempt int) (*endpoint.Response, error)
}

func newScriptedEndpoint(fn func(id string, attempt int) (*endpoint.Response, error)) *scriptedEndpoint {
	return &scriptedEndpoint{
		TokenEstimator: endpoint.NewTokenEstimator(4),
		calls:          make(map[string]int),
		fn:             fn,
	}
}

func (e *scriptedEndpoint) Call(_ context.Context, p endpoint.Payload) (*endpoint.Response, error) {
	id := p.Messages[len(p.Messages)-1].Content

	e.mu.Lock()
	e.calls[id]++
	attempt := e.calls[id]
	e.total++
	e.inFlight++
	if e.inFlight > e.maxIn {
		e.maxIn = e.inFlight
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	return e.fn(id, attempt)
}

func (e *scriptedEndpoint) Calls(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[id]
}

func (e *scriptedEndpoint) Total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

func okResponse(id string) *endpoint.Response {
	return &endpoint.Response{
		Content:          fmt.Sprintf(`{"summary":"story %s"}`, id),
		PromptTokens:     10,
		CompletionTokens: 5,
	}
}

func alwaysOK(id string, _ int) (*endpoint.Response, error) {
	return okResponse(id), nil
}

func makeTasks(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		id := fmt.Sprintf("n-%02d", i+1)
		tasks[i] = Task{
			ID:      id,
			Payload: endpoint.Payload{Messages: []endpoint.Message{{Role: endpoint.RoleUser, Content: id}}},
		}
	}
	return tasks
}

// unlimitedTracker has both limits disabled and no jitter.
func unlimitedTracker() *ratelimit.Tracker {
	return ratelimit.NewTracker(noJitter(0, 0), zerolog.Nop())
}

func noJitter(rpm, tpm int) ratelimit.Config {
	cfg := ratelimit.DefaultConfig(rpm, tpm)
	cfg.ProceedJitterMin, cfg.ProceedJitterMax = 0, 0
	cfg.WaitJitterMin, cfg.WaitJitterMax = 0, 0
	return cfg
}

func zeroRand() float64 { return 0 }

func testRetry(maxRetries int) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxRetries = maxRetries
	return p
}

// syncBuffer collects diagnostics written from several workers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNew_Validation(t *testing.T) {
	ep := newScriptedEndpoint(alwaysOK)
	valid := Deps{Endpoint: ep, Quota: unlimitedTracker(), Sink: store.NewMemoryStore(), Logger: zerolog.Nop()}

	tests := []struct {
		name    string
		cfg     Config
		mutate  func(d *Deps)
		wantErr bool
	}{
		{name: "valid", cfg: DefaultConfig()},
		{name: "zero config gets defaults", cfg: Config{}},
		{name: "missing endpoint", cfg: DefaultConfig(), mutate: func(d *Deps) { d.Endpoint = nil }, wantErr: true},
		{name: "missing quota", cfg: DefaultConfig(), mutate: func(d *Deps) { d.Quota = nil }, wantErr: true},
		{name: "missing sink", cfg: DefaultConfig(), mutate: func(d *Deps) { d.Sink = nil }, wantErr: true},
		{name: "negative concurrency", cfg: Config{Concurrency: -1}, wantErr: true},
		{name: "negative retries", cfg: Config{Retry: RetryPolicy{MaxRetries: -1}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := valid
			if tt.mutate != nil {
				tt.mutate(&deps)
			}
			d, err := New(tt.cfg, deps)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("New() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if d.cfg.Concurrency <= 0 || d.cfg.QueueSize <= 0 {
				t.Errorf("defaults not applied: %+v", d.cfg)
			}
		})
	}
}

func TestRun_AllSucceed(t *testing.T) {
	ep := newScriptedEndpoint(alwaysOK)
	sink := store.NewMemoryStore()
	reporter := progress.NewReporter("test-model", 0)

	d, err := New(Config{Concurrency: 4, Retry: DefaultRetryPolicy()}, Deps{
		Endpoint: ep,
		Quota:    unlimitedTracker(),
		Sink:     sink,
		Progress: reporter,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary, err := d.Run(context.Background(), makeTasks(10))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Total != 10 || summary.Succeeded != 10 || summary.Completed() != 10 {
		t.Errorf("summary = %+v, want 10 succeeded", summary)
	}
	if summary.Attempts != 10 {
		t.Errorf("Attempts = %d, want 10", summary.Attempts)
	}
	if summary.RunID == "" {
		t.Error("RunID is empty")
	}

	count, _ := sink.Count(context.Background())
	if count != 10 {
		t.Errorf("stored %d documents, want 10", count)
	}
	doc, err := sink.Get(context.Background(), "n-03")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc["summary"] != "story n-03" || doc.ID() != "n-03" {
		t.Errorf("stored document = %v", doc)
	}

	snap := reporter.Snapshot()
	if snap.Completed != 10 || snap.Total != 10 {
		t.Errorf("progress = %d/%d, want 10/10", snap.Completed, snap.Total)
	}
	if _, ok := snap.Metrics[MetricTokensInWindow]; !ok {
		t.Errorf("progress metrics %v lack %s", snap.Metrics, MetricTokensInWindow)
	}
}

func TestRun_Empty(t *testing.T) {
	d, err := New(DefaultConfig(), Deps{
		Endpoint: newScriptedEndpoint(alwaysOK),
		Quota:    unlimitedTracker(),
		Sink:     store.NewMemoryStore(),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary, err := d.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Total != 0 || summary.Completed() != 0 {
		t.Errorf("summary = %+v, want empty", summary)
	}
}

func TestRun_RetryExhausted(t *testing.T) {
	ep := newScriptedEndpoint(func(string, int) (*endpoint.Response, error) {
		return nil, endpoint.Throttled("test", 429, errors.New("slow down"))
	})
	sig := newFakeSignal()
	diag := &syncBuffer{}
	diagLogger := zerolog.New(diag)

	d, err := New(Config{Concurrency: 1, Retry: testRetry(3)}, Deps{
		Endpoint:    ep,
		Quota:       unlimitedTracker(),
		Sink:        store.NewMemoryStore(),
		Signal:      sig,
		Logger:      zerolog.Nop(),
		Diagnostics: &diagLogger,
	}, WithRand(zeroRand))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary, err := d.Run(context.Background(), makeTasks(1))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Exhausted != 1 || summary.Attempts != 4 {
		t.Errorf("summary = %+v, want 1 exhausted after 4 attempts", summary)
	}
	if got := ep.Calls("n-01"); got != 4 {
		t.Errorf("endpoint calls = %d, want 4", got)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	got := sig.Sleeps()
	if len(got) != len(want) {
		t.Fatalf("backoffs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("backoff[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	out := diag.String()
	if !strings.Contains(out, "n-01") || !strings.Contains(out, "Retries exhausted") {
		t.Errorf("diagnostics = %q, want exhausted entry for n-01", out)
	}
}

func TestRun_ThrottledThenSucceeds(t *testing.T) {
	ep := newScriptedEndpoint(func(id string, attempt int) (*endpoint.Response, error) {
		if attempt <= 2 {
			return nil, endpoint.Throttled("test", 429, nil)
		}
		return okResponse(id), nil
	})
	sig := newFakeSignal()
	sink := store.NewMemoryStore()

	d, err := New(Config{Concurrency: 1, Retry: DefaultRetryPolicy()}, Deps{
		Endpoint: ep,
		Quota:    unlimitedTracker(),
		Sink:     sink,
		Signal:   sig,
		Logger:   zerolog.Nop(),
	}, WithRand(zeroRand))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary, _ := d.Run(context.Background(), makeTasks(1))
	if summary.Succeeded != 1 || summary.Attempts != 3 {
		t.Errorf("summary = %+v, want 1 succeeded after 3 attempts", summary)
	}
	if got := sig.Sleeps(); len(got) != 2 || got[0] != 2*time.Second || got[1] != 4*time.Second {
		t.Errorf("backoffs = %v, want [2s 4s]", got)
	}
	if _, err := sink.Get(context.Background(), "n-01"); err != nil {
		t.Errorf("result not stored: %v", err)
	}
}

func TestRun_FailuresNotRetried(t *testing.T) {
	tests := []struct {
		name     string
		respond  func(id string, attempt int) (*endpoint.Response, error)
		wantDiag string
	}{
		{
			name: "endpoint failure",
			respond: func(string, int) (*endpoint.Response, error) {
				return nil, endpoint.Failed("test", 400, "bad request", errors.New("invalid model"))
			},
			wantDiag: "invalid model",
		},
		{
			name: "malformed content",
			respond: func(string, int) (*endpoint.Response, error) {
				return &endpoint.Response{Content: "not json"}, nil
			},
			wantDiag: "store result",
		},
		{
			name: "nil response",
			respond: func(string, int) (*endpoint.Response, error) {
				return nil, nil
			},
			wantDiag: "no response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := newScriptedEndpoint(tt.respond)
			diag := &syncBuffer{}
			diagLogger := zerolog.New(diag)

			d, err := New(Config{Concurrency: 2, Retry: DefaultRetryPolicy()}, Deps{
				Endpoint:    ep,
				Quota:       unlimitedTracker(),
				Sink:        store.NewMemoryStore(),
				Logger:      zerolog.Nop(),
				Diagnostics: &diagLogger,
			})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			summary, _ := d.Run(context.Background(), makeTasks(3))
			if summary.Failed != 3 || summary.Attempts != 3 {
				t.Errorf("summary = %+v, want 3 failed after 1 attempt each", summary)
			}
			if ep.Total() != 3 {
				t.Errorf("endpoint calls = %d, want 3", ep.Total())
			}
			out := diag.String()
			if !strings.Contains(out, "Task abandoned") || !strings.Contains(out, tt.wantDiag) {
				t.Errorf("diagnostics = %q, want %q", out, tt.wantDiag)
			}
			if !strings.Contains(out, `"stack":"goroutine `) {
				t.Errorf("diagnostics lack a stack: %q", out)
			}
		})
	}
}

func TestRun_SignalStopsNewAttempts(t *testing.T) {
	sig := newFakeSignal()
	ep := newScriptedEndpoint(func(id string, attempt int) (*endpoint.Response, error) {
		if id == "n-02" {
			sig.Set()
		}
		return okResponse(id), nil
	})

	d, err := New(Config{Concurrency: 1, Retry: DefaultRetryPolicy()}, Deps{
		Endpoint: ep,
		Quota:    unlimitedTracker(),
		Sink:     store.NewMemoryStore(),
		Signal:   sig,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary, err := d.Run(context.Background(), makeTasks(10))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Succeeded != 2 || summary.Cancelled != 8 {
		t.Errorf("summary = %+v, want 2 succeeded and 8 cancelled", summary)
	}
	if ep.Total() != 2 {
		t.Errorf("endpoint calls = %d, want 2", ep.Total())
	}
}

func TestRun_ContextCancelDoesNotAbortIssuedCall(t *testing.T) {
	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	sig := cancel.New()

	var callErr error
	ep := newScriptedEndpoint(nil)
	ep.fn = func(id string, _ int) (*endpoint.Response, error) {
		return okResponse(id), nil
	}
	first := make(chan struct{})
	wrapped := &ctxEndpoint{scriptedEndpoint: ep, onCall: func(callCtx context.Context) {
		select {
		case <-first:
			return
		default:
			close(first)
		}
		cancelRun()
		select {
		case <-sig.Done():
		case <-time.After(5 * time.Second):
		}
		callErr = callCtx.Err()
	}}

	d, err := New(Config{Concurrency: 1, Retry: DefaultRetryPolicy()}, Deps{
		Endpoint: wrapped,
		Quota:    unlimitedTracker(),
		Sink:     store.NewMemoryStore(),
		Signal:   sig,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary, _ := d.Run(ctx, makeTasks(5))
	if !sig.IsSet() {
		t.Fatal("context cancellation did not set the signal")
	}
	if callErr != nil {
		t.Errorf("issued call saw ctx error %v", callErr)
	}
	if summary.Succeeded != 1 || summary.Cancelled != 4 {
		t.Errorf("summary = %+v, want 1 succeeded and 4 cancelled", summary)
	}
}

// ctxEndpoint lets a test observe the context handed to Call.
type ctxEndpoint struct {
	*scriptedEndpoint
	onCall func(ctx context.Context)
}

func (e *ctxEndpoint) Call(ctx context.Context, p endpoint.Payload) (*endpoint.Response, error) {
	e.onCall(ctx)
	return e.scriptedEndpoint.Call(ctx, p)
}

func TestRun_CancelDuringBackoff(t *testing.T) {
	sig := newFakeSignal()
	sig.onSleep = func(time.Duration) bool {
		sig.Set()
		return false
	}
	ep := newScriptedEndpoint(func(string, int) (*endpoint.Response, error) {
		return nil, endpoint.Throttled("test", 429, nil)
	})

	d, err := New(Config{Concurrency: 1, Retry: DefaultRetryPolicy()}, Deps{
		Endpoint: ep,
		Quota:    unlimitedTracker(),
		Sink:     store.NewMemoryStore(),
		Signal:   sig,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary, _ := d.Run(context.Background(), makeTasks(3))
	if summary.Cancelled != 3 || summary.Attempts != 1 {
		t.Errorf("summary = %+v, want 3 cancelled after a single attempt", summary)
	}
}

func TestRun_PanicIsRecovered(t *testing.T) {
	ep := newScriptedEndpoint(func(id string, _ int) (*endpoint.Response, error) {
		if id == "n-02" {
			panic("adapter bug")
		}
		return okResponse(id), nil
	})
	diag := &syncBuffer{}
	diagLogger := zerolog.New(diag)

	d, err := New(Config{Concurrency: 2, Retry: DefaultRetryPolicy()}, Deps{
		Endpoint:    ep,
		Quota:       unlimitedTracker(),
		Sink:        store.NewMemoryStore(),
		Logger:      zerolog.Nop(),
		Diagnostics: &diagLogger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary, _ := d.Run(context.Background(), makeTasks(4))
	if summary.Succeeded != 3 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 3 succeeded and 1 failed", summary)
	}
	if out := diag.String(); !strings.Contains(out, "Task panicked") || !strings.Contains(out, "adapter bug") {
		t.Errorf("diagnostics = %q, want panic entry", out)
	}
}

func TestRun_ConcurrencyBound(t *testing.T) {
	ep := newScriptedEndpoint(alwaysOK)
	ep.delay = 20 * time.Millisecond

	d, err := New(Config{Concurrency: 3, Retry: DefaultRetryPolicy()}, Deps{
		Endpoint: ep,
		Quota:    unlimitedTracker(),
		Sink:     store.NewMemoryStore(),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary, _ := d.Run(context.Background(), makeTasks(15))
	if summary.Succeeded != 15 {
		t.Errorf("summary = %+v, want 15 succeeded", summary)
	}

	ep.mu.Lock()
	maxIn := ep.maxIn
	ep.mu.Unlock()
	if maxIn > 3 {
		t.Errorf("max in-flight = %d, want <= 3", maxIn)
	}
}

func TestRun_RequestQuotaOnFakeClock(t *testing.T) {
	clock := newFakeClock()
	t0 := clock.Now()
	sig := newFakeSignal()
	sig.clock = clock

	var mu sync.Mutex
	var at []time.Duration
	ep := newScriptedEndpoint(func(id string, _ int) (*endpoint.Response, error) {
		mu.Lock()
		at = append(at, clock.Now().Sub(t0))
		mu.Unlock()
		return okResponse(id), nil
	})
	tracker := ratelimit.NewTracker(noJitter(1, 0), zerolog.Nop(), ratelimit.WithClock(clock.Now))

	d, err := New(Config{Concurrency: 1, Retry: DefaultRetryPolicy()}, Deps{
		Endpoint: ep,
		Quota:    tracker,
		Sink:     store.NewMemoryStore(),
		Signal:   sig,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary, _ := d.Run(context.Background(), makeTasks(3))
	if summary.Succeeded != 3 {
		t.Fatalf("summary = %+v, want 3 succeeded", summary)
	}

	want := []time.Duration{0, 60 * time.Second, 120 * time.Second}
	if len(at) != len(want) {
		t.Fatalf("attempts at %v, want %v", at, want)
	}
	for i := range want {
		if at[i] != want[i] {
			t.Errorf("attempt %d at %v, want %v", i+1, at[i], want[i])
		}
	}
}

func TestRun_OpenAIMock(t *testing.T) {
	mock := testutil.NewMockLLM()
	defer mock.Close()
	mock.SetBehavior(testutil.MockLLMBehavior{
		ThrottleFirst:    2,
		Delay:            10 * time.Millisecond,
		ContentFunc:      func(user string) string { return fmt.Sprintf(`{"echo":%q}`, user) },
		PromptTokens:     20,
		CompletionTokens: 10,
	})

	ep, err := endpoint.NewOpenAI(endpoint.ModelConfig{
		Provider: endpoint.ProviderOpenAI,
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
		BaseURL:  mock.OpenAIBaseURL(),
	})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}

	sink := store.NewMemoryStore()
	retry := DefaultRetryPolicy()
	retry.BackoffBase = time.Millisecond
	retry.BackoffJitter = 0

	d, err := New(Config{Concurrency: 4, Retry: retry}, Deps{
		Endpoint: ep,
		Quota:    unlimitedTracker(),
		Sink:     sink,
		Signal:   cancel.New(),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary, _ := d.Run(context.Background(), makeTasks(12))
	if summary.Succeeded != 12 {
		t.Fatalf("summary = %+v, want 12 succeeded", summary)
	}
	if summary.Attempts != 14 {
		t.Errorf("Attempts = %d, want 14 (12 + 2 throttled)", summary.Attempts)
	}
	if got := mock.GetMaxInFlight(); got > 4 {
		t.Errorf("max in-flight = %d, want <= 4", got)
	}

	doc, err := sink.Get(context.Background(), "n-07")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc["echo"] != "n-07" {
		t.Errorf("stored document = %v", doc)
	}
}

func TestDescribeWait(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{ratelimit.ReasonRPM, "[WAITING] Sleeping 1.50s (RPM limit)"},
		{ratelimit.ReasonTPM, "[WAITING] Sleeping 1.50s (TPM limit)"},
		{ratelimit.ReasonBoth, "[WAITING] Sleeping 1.50s (RPM/TPM limit)"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			if got := DescribeWait(1500*time.Millisecond, tt.reason); got != tt.want {
				t.Errorf("DescribeWait() = %q, want %q", got, tt.want)
			}
		})
	}
}
