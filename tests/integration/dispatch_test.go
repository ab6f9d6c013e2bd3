//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/narrative-blueprint/internal/testutil"
	"github.com/Sternrassler/narrative-blueprint/pkg/cancel"
	"github.com/Sternrassler/narrative-blueprint/pkg/dispatch"
	"github.com/Sternrassler/narrative-blueprint/pkg/endpoint"
	"github.com/Sternrassler/narrative-blueprint/pkg/progress"
	"github.com/Sternrassler/narrative-blueprint/pkg/ratelimit"
	"github.com/Sternrassler/narrative-blueprint/pkg/source"
	"github.com/Sternrassler/narrative-blueprint/pkg/store"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func writeNarratives(t *testing.T, n int) string {
	t.Helper()
	content := "uuid,narrative\n"
	for i := 1; i <= n; i++ {
		content += fmt.Sprintf("story-%02d,Narrative number %d\n", i, i)
	}
	path := filepath.Join(t.TempDir(), "narratives.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write narratives: %v", err)
	}
	return path
}

func newEndpoint(t *testing.T, mock *testutil.MockLLM) endpoint.Endpoint {
	t.Helper()
	ep, err := endpoint.NewOpenAI(endpoint.ModelConfig{
		Provider: endpoint.ProviderOpenAI,
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
		BaseURL:  mock.OpenAIBaseURL(),
	})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}
	return ep
}

// TestResumableRun dispatches a batch into Redis, then prepares the same
// input again and expects nothing left to do.
func TestResumableRun(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockLLM()
	defer mock.Close()
	mock.SetBehavior(testutil.MockLLMBehavior{
		ThrottleFirst:    3,
		Delay:            5 * time.Millisecond,
		ContentFunc:      func(user string) string { return fmt.Sprintf(`{"plot":%q}`, user) },
		PromptTokens:     40,
		CompletionTokens: 20,
	})

	ctx := context.Background()
	manager := store.NewManager(redisClient, store.Namespace{Database: "it", Collection: "resume"})
	if err := manager.CheckAccess(ctx); err != nil {
		t.Fatalf("CheckAccess() error = %v", err)
	}

	ep := newEndpoint(t, mock)
	tmpl := &source.Template{System: "Reply with JSON.", Message: "$narrative"}
	path := writeNarratives(t, 20)

	tasks, stats, err := source.Prepare(ctx, source.Options{
		NarrativePath: path,
		Template:      tmpl,
		Completed:     manager,
		Estimator:     ep,
	})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if stats.Selected != 20 {
		t.Fatalf("Selected = %d, want 20", stats.Selected)
	}

	retry := dispatch.DefaultRetryPolicy()
	retry.BackoffBase = 10 * time.Millisecond
	tracker := ratelimit.NewTracker(ratelimit.DefaultConfig(1000, 1000000), zerolog.Nop())
	reporter := progress.NewReporter("gpt-4o-mini", 0)

	d, err := dispatch.New(dispatch.Config{Concurrency: 5, Retry: retry}, dispatch.Deps{
		Endpoint: ep,
		Quota:    tracker,
		Sink:     manager,
		Progress: reporter,
		Signal:   cancel.New(),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	summary, err := d.Run(ctx, tasks)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Succeeded != 20 {
		t.Fatalf("summary = %+v, want 20 succeeded", summary)
	}
	if got := mock.GetMaxInFlight(); got > 5 {
		t.Errorf("max in-flight = %d, want <= 5", got)
	}

	count, err := manager.Count(ctx)
	if err != nil || count != 20 {
		t.Errorf("Count() = %d, %v, want 20", count, err)
	}
	doc, err := manager.Get(ctx, "story-07")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc["plot"] != "Narrative number 7" || doc.ID() != "story-07" {
		t.Errorf("document = %v", doc)
	}

	again, stats, err := source.Prepare(ctx, source.Options{
		NarrativePath: path,
		Template:      tmpl,
		Completed:     manager,
	})
	if err != nil {
		t.Fatalf("second Prepare() error = %v", err)
	}
	if len(again) != 0 || stats.Skipped != 20 {
		t.Errorf("second pass: %d tasks, stats %+v, want nothing left", len(again), stats)
	}
}

// TestInterruptedRunKeepsCompletedWork cancels mid-run and checks that the
// stored results and the remaining work add up to the batch.
func TestInterruptedRunKeepsCompletedWork(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockLLM()
	defer mock.Close()
	mock.SetBehavior(testutil.MockLLMBehavior{
		Delay:            50 * time.Millisecond,
		Content:          `{"plot":"ok"}`,
		PromptTokens:     10,
		CompletionTokens: 5,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	manager := store.NewManager(redisClient, store.Namespace{Database: "it", Collection: "interrupt"})
	ep := newEndpoint(t, mock)
	path := writeNarratives(t, 30)
	tmpl := &source.Template{Message: "$narrative"}

	tasks, _, err := source.Prepare(ctx, source.Options{NarrativePath: path, Template: tmpl, Completed: manager})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	d, err := dispatch.New(dispatch.Config{Concurrency: 2, Retry: dispatch.DefaultRetryPolicy()}, dispatch.Deps{
		Endpoint: ep,
		Quota:    ratelimit.NewTracker(ratelimit.DefaultConfig(0, 0), zerolog.Nop()),
		Sink:     manager,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	time.AfterFunc(300*time.Millisecond, stop)
	summary, err := d.Run(ctx, tasks)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Cancelled == 0 {
		t.Fatalf("summary = %+v, want cancelled tasks", summary)
	}

	stored, _ := manager.Count(context.Background())
	if int(stored) != summary.Succeeded {
		t.Errorf("stored %d, summary says %d succeeded", stored, summary.Succeeded)
	}

	rest, _, err := source.Prepare(context.Background(), source.Options{NarrativePath: path, Template: tmpl, Completed: manager})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if len(rest)+int(stored) != 30 {
		t.Errorf("remaining %d + stored %d != 30", len(rest), stored)
	}
}
