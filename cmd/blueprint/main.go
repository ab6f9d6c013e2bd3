package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/narrative-blueprint/pkg/cancel"
	"github.com/Sternrassler/narrative-blueprint/pkg/config"
	"github.com/Sternrassler/narrative-blueprint/pkg/dispatch"
	"github.com/Sternrassler/narrative-blueprint/pkg/endpoint"
	"github.com/Sternrassler/narrative-blueprint/pkg/logging"
	"github.com/Sternrassler/narrative-blueprint/pkg/metrics"
	"github.com/Sternrassler/narrative-blueprint/pkg/progress"
	"github.com/Sternrassler/narrative-blueprint/pkg/ratelimit"
	"github.com/Sternrassler/narrative-blueprint/pkg/source"
	"github.com/Sternrassler/narrative-blueprint/pkg/store"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "blueprint: %v\n", err)
		os.Exit(1)
	}
}

// resultStore is what a run needs from a result backend.
type resultStore interface {
	dispatch.Sink
	source.CompletedLister
	CheckAccess(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// loadConfig builds the run configuration: defaults, then the -config
// file, then the environment, then explicitly set flags.
func loadConfig(args []string, stderr io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("blueprint", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath  = fs.String("config", "", "path to a TOML run configuration")
		provider    = fs.String("provider", "", "model provider (openai, anthropic, google)")
		model       = fs.String("model", "", "model name")
		template    = fs.String("prompt-template", "", "path to the TOML prompt template")
		narratives  = fs.String("narrative-path", "", "path to the narratives file (.csv, .xlsx, .json, .yaml)")
		sampleSize  = fs.Int("sample-size", 0, "process at most N pending narratives (0 = all)")
		database    = fs.String("db", "", "result database name")
		collection  = fs.String("collection", "", "result collection name")
		backend     = fs.String("store", "", "result store backend (redis, memory)")
		concurrency = fs.Int("concurrency", 0, "maximum in-flight requests")
		maxRetries  = fs.Int("max-retries", 0, "retries after a throttled attempt")
		metricsAddr = fs.String("metrics-addr", "", "serve /metrics and /health on this address")
		logLevel    = fs.String("log-level", "", "log level (debug, info, warn, error)")
		pretty      = fs.Bool("pretty", false, "human-readable console logs")
		diagnostics = fs.String("diagnostics", "", "append-only log of failed tasks")
	)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	// Flags are applied after ApplyEnv, except that the provider must be
	// known before the API key variable is chosen.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["provider"] {
		cfg.Model.Provider = *provider
	}
	cfg.ApplyEnv()

	if set["model"] {
		cfg.Model.Name = *model
	}
	if set["prompt-template"] {
		cfg.Run.PromptTemplate = *template
	}
	if set["narrative-path"] {
		cfg.Run.NarrativePath = *narratives
	}
	if set["sample-size"] {
		cfg.Run.SampleSize = *sampleSize
	}
	if set["db"] {
		cfg.Store.Database = *database
	}
	if set["collection"] {
		cfg.Store.Collection = *collection
	}
	if set["store"] {
		cfg.Store.Backend = *backend
	}
	if set["concurrency"] {
		cfg.Dispatch.Concurrency = *concurrency
	}
	if set["max-retries"] {
		cfg.Dispatch.MaxRetries = *maxRetries
	}
	if set["metrics-addr"] {
		cfg.Run.MetricsAddr = *metricsAddr
	}
	if set["log-level"] {
		cfg.Logging.Level = *logLevel
	}
	if set["pretty"] {
		cfg.Logging.Pretty = *pretty
	}
	if set["diagnostics"] {
		cfg.Logging.Diagnostics = *diagnostics
	}

	return cfg, cfg.Validate()
}

func openStore(cfg config.Config) (resultStore, func(), error) {
	if cfg.Store.Backend == config.BackendMemory {
		return store.NewMemoryStore(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.Store.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse store url: %w", err)
	}
	client := redis.NewClient(opts)
	return store.NewManager(client, cfg.Namespace()), func() { client.Close() }, nil
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := loadConfig(args, stderr)
	if err != nil {
		return err
	}

	lc := cfg.LoggerConfig()
	lc.Output = stderr
	logger := logging.Setup(lc)

	started := time.Now()
	logger.Info().
		Time("started_at", started).
		Str("provider", cfg.Model.Provider).
		Str("model", cfg.Model.Name).
		Str("namespace", cfg.Namespace().String()).
		Msg("===== narrative-blueprint run started =====")

	diag, err := logging.OpenDiagnostics(cfg.Logging.Diagnostics)
	if err != nil {
		return err
	}
	defer diag.Close()

	limit, err := cfg.ResolveLimits()
	if err != nil {
		return err
	}

	results, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := results.CheckAccess(ctx); err != nil {
		return fmt.Errorf("store access check: %w", err)
	}
	logger.Info().Str("backend", cfg.Store.Backend).Msg("Store access verified")

	tmpl, err := source.LoadTemplate(cfg.Run.PromptTemplate)
	if err != nil {
		return err
	}

	ep, closer, err := endpoint.New(ctx, cfg.EndpointConfig())
	if err != nil {
		return err
	}
	defer closer.Close()

	tasks, stats, err := source.Prepare(ctx, source.Options{
		NarrativePath: cfg.Run.NarrativePath,
		Columns:       cfg.Columns(),
		Template:      tmpl,
		SampleSize:    cfg.Run.SampleSize,
		Completed:     results,
		Estimator:     ep,
	})
	if err != nil {
		return err
	}
	logger.Info().
		Int("loaded", stats.Loaded).
		Int("already_stored", stats.Skipped).
		Int("duplicates", stats.Duplicates).
		Int("selected", stats.Selected).
		Int("rpm", limit.RequestsPerMinute).
		Int("tpm", limit.TokensPerMinute).
		Msg("Narratives prepared")

	if len(tasks) == 0 {
		logger.Info().Msg("Nothing to do, every narrative is already stored")
		finish(logger, started, nil)
		return nil
	}

	sig := cancel.New()
	stopInterrupt := cancel.NotifyOnInterrupt(sig, logger)
	defer stopInterrupt()

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	if cfg.Run.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(runCtx, cfg.Run.MetricsAddr, logging.NewLogger("metrics")); err != nil {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	reporter := progress.NewReporter(cfg.Model.Name, len(tasks))

	trackerCfg := cfg.TrackerConfig(limit)
	trackerCfg.OnWait = func(wait time.Duration, reason string) {
		reporter.SetDescription(dispatch.DescribeWait(wait, reason))
	}
	tracker := ratelimit.NewTracker(trackerCfg, logging.NewLogger("ratelimit"))

	d, err := dispatch.New(cfg.DispatcherConfig(), dispatch.Deps{
		Endpoint:    ep,
		Quota:       tracker,
		Sink:        results,
		Progress:    reporter,
		Signal:      sig,
		Logger:      logging.NewLogger("dispatch"),
		Diagnostics: &diag.Logger,
	})
	if err != nil {
		return err
	}

	renderCtx, stopRender := context.WithCancel(runCtx)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		progress.NewRenderer(reporter, stderr, logging.NewLogger("progress")).Run(renderCtx)
	}()

	summary, err := d.Run(runCtx, tasks)
	stopRender()
	<-rendered
	if err != nil {
		return err
	}

	if stored, err := results.Count(ctx); err == nil {
		logger.Info().Int64("stored", stored).Msg("Results in store")
	}
	finish(logger, started, summary)
	return nil
}

func finish(logger zerolog.Logger, started time.Time, summary *dispatch.Summary) {
	event := logger.Info().
		Time("finished_at", time.Now()).
		Dur("elapsed", time.Since(started))
	if summary != nil {
		event = event.
			Str("run_id", summary.RunID).
			Int("total", summary.Total).
			Int("succeeded", summary.Succeeded).
			Int("failed", summary.Failed).
			Int("exhausted", summary.Exhausted).
			Int("cancelled", summary.Cancelled)
	}
	event.Msg("===== narrative-blueprint run finished =====")
}
