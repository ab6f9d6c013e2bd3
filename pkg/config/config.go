// Package config loads the run configuration from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Sternrassler/narrative-blueprint/pkg/dispatch"
	"github.com/Sternrassler/narrative-blueprint/pkg/endpoint"
	"github.com/Sternrassler/narrative-blueprint/pkg/logging"
	"github.com/Sternrassler/narrative-blueprint/pkg/ratelimit"
	"github.com/Sternrassler/narrative-blueprint/pkg/source"
	"github.com/Sternrassler/narrative-blueprint/pkg/store"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Store backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Duration decodes TOML strings such as "1s" or "150ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete run configuration.
type Config struct {
	Model    ModelConfig    `toml:"model"`
	Limits   LimitsConfig   `toml:"limits"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Quota    QuotaConfig    `toml:"quota"`
	Store    StoreConfig    `toml:"store"`
	Logging  LoggingConfig  `toml:"logging"`
	Run      RunConfig      `toml:"run"`
}

// ModelConfig selects the provider and model.
type ModelConfig struct {
	Provider       string   `toml:"provider"`
	Name           string   `toml:"name"`
	BaseURL        string   `toml:"base_url"`
	Temperature    *float64 `toml:"temperature"`
	MaxTokens      int      `toml:"max_tokens"`
	JSONResponse   bool     `toml:"json_response"`
	RequestTimeout Duration `toml:"request_timeout"`

	// APIKey comes from the provider's environment variable.
	APIKey string `toml:"-"`
}

// LimitsConfig points at the model limits catalogue. RPM/TPM, when > 0,
// override the catalogue entry.
type LimitsConfig struct {
	File string `toml:"file"`
	RPM  int    `toml:"rpm"`
	TPM  int    `toml:"tpm"`
}

// DispatchConfig holds worker pool and retry settings.
type DispatchConfig struct {
	Concurrency   int      `toml:"concurrency"`
	QueueSize     int      `toml:"queue_size"`
	MaxRetries    int      `toml:"max_retries"`
	BackoffBase   Duration `toml:"backoff_base"`
	BackoffJitter Duration `toml:"backoff_jitter"`
	MaxBackoff    Duration `toml:"max_backoff"`
}

// QuotaConfig holds the tracker's window and jitter settings.
type QuotaConfig struct {
	Window                  Duration `toml:"window"`
	DefaultCompletionTokens int      `toml:"default_completion_tokens"`
	ProceedJitterMin        Duration `toml:"proceed_jitter_min"`
	ProceedJitterMax        Duration `toml:"proceed_jitter_max"`
	WaitJitterMin           Duration `toml:"wait_jitter_min"`
	WaitJitterMax           Duration `toml:"wait_jitter_max"`
}

// StoreConfig selects the result store.
type StoreConfig struct {
	Backend    string `toml:"backend"`
	URL        string `toml:"url"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

// LoggingConfig configures the process and diagnostics logs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	Pretty      bool   `toml:"pretty"`
	Diagnostics string `toml:"diagnostics"`
}

// RunConfig names the inputs of a run.
type RunConfig struct {
	PromptTemplate string `toml:"prompt_template"`
	NarrativePath  string `toml:"narrative_path"`
	IDColumn       string `toml:"id_column"`
	TextColumn     string `toml:"text_column"`
	SampleSize     int    `toml:"sample_size"`
	MetricsAddr    string `toml:"metrics_addr"`
}

// DefaultConfig returns a configuration with safe defaults.
func DefaultConfig() Config {
	retry := dispatch.DefaultRetryPolicy()
	quota := ratelimit.DefaultConfig(0, 0)
	cols := source.DefaultColumns()

	return Config{
		Model: ModelConfig{
			Provider:     endpoint.ProviderOpenAI,
			Name:         "gpt-4o-mini",
			MaxTokens:    endpoint.DefaultMaxTokens,
			JSONResponse: true,
		},
		Limits: LimitsConfig{File: "configs/model_limits.toml"},
		Dispatch: DispatchConfig{
			Concurrency:   dispatch.DefaultConcurrency,
			MaxRetries:    retry.MaxRetries,
			BackoffBase:   Duration{retry.BackoffBase},
			BackoffJitter: Duration{retry.BackoffJitter},
			MaxBackoff:    Duration{retry.MaxBackoff},
		},
		Quota: QuotaConfig{
			Window:                  Duration{quota.Window},
			DefaultCompletionTokens: quota.DefaultCompletionTokens,
			ProceedJitterMin:        Duration{quota.ProceedJitterMin},
			ProceedJitterMax:        Duration{quota.ProceedJitterMax},
			WaitJitterMin:           Duration{quota.WaitJitterMin},
			WaitJitterMax:           Duration{quota.WaitJitterMax},
		},
		Store: StoreConfig{
			Backend:    BackendRedis,
			URL:        "redis://localhost:6379/0",
			Database:   "narratives",
			Collection: "blueprints",
		},
		Logging: LoggingConfig{
			Level:       string(logging.LevelInfo),
			Diagnostics: logging.DefaultDiagnosticsPath,
		},
		Run: RunConfig{
			IDColumn:   cols.ID,
			TextColumn: cols.Text,
		},
	}
}

// Load decodes path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("%w: %s: unknown keys %v", ErrInvalid, path, undecoded)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment:
// REDIS_URL, LOG_LEVEL and the provider API key
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY or GOOGLE_API_KEY).
func (c *Config) ApplyEnv() {
	c.Store.URL = getEnv("REDIS_URL", c.Store.URL)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)

	switch strings.ToLower(c.Model.Provider) {
	case endpoint.ProviderOpenAI:
		c.Model.APIKey = getEnv("OPENAI_API_KEY", c.Model.APIKey)
	case endpoint.ProviderAnthropic:
		c.Model.APIKey = getEnv("ANTHROPIC_API_KEY", c.Model.APIKey)
	case endpoint.ProviderGoogle:
		c.Model.APIKey = getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", c.Model.APIKey))
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Model.Provider) {
	case endpoint.ProviderOpenAI, endpoint.ProviderAnthropic, endpoint.ProviderGoogle:
	default:
		errs = append(errs, fmt.Errorf("model.provider %q is not one of openai, anthropic, google", c.Model.Provider))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name is required"))
	}
	if c.Model.MaxTokens < 0 {
		errs = append(errs, errors.New("model.max_tokens must not be negative"))
	}

	if c.Dispatch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("dispatch.concurrency must be at least 1, got %d", c.Dispatch.Concurrency))
	}
	if c.Dispatch.MaxRetries < 0 {
		errs = append(errs, errors.New("dispatch.max_retries must not be negative"))
	}
	if c.Quota.ProceedJitterMin.Duration > c.Quota.ProceedJitterMax.Duration {
		errs = append(errs, errors.New("quota.proceed_jitter_min exceeds proceed_jitter_max"))
	}
	if c.Quota.WaitJitterMin.Duration > c.Quota.WaitJitterMax.Duration {
		errs = append(errs, errors.New("quota.wait_jitter_min exceeds wait_jitter_max"))
	}

	switch c.Store.Backend {
	case BackendRedis:
		if c.Store.URL == "" {
			errs = append(errs, errors.New("store.url is required for the redis backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of redis, memory", c.Store.Backend))
	}
	if err := c.Namespace().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	if err := logging.ValidateLevel(logging.LogLevel(c.Logging.Level)); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	if c.Run.PromptTemplate == "" {
		errs = append(errs, errors.New("run.prompt_template is required"))
	}
	if c.Run.NarrativePath == "" {
		errs = append(errs, errors.New("run.narrative_path is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// EndpointConfig returns the adapter configuration.
func (c Config) EndpointConfig() endpoint.ModelConfig {
	return endpoint.ModelConfig{
		Provider:       strings.ToLower(c.Model.Provider),
		Model:          c.Model.Name,
		APIKey:         c.Model.APIKey,
		BaseURL:        c.Model.BaseURL,
		Temperature:    c.Model.Temperature,
		MaxTokens:      c.Model.MaxTokens,
		JSONResponse:   c.Model.JSONResponse,
		RequestTimeout: c.Model.RequestTimeout.Duration,
	}
}

// DispatcherConfig returns the worker pool and retry settings.
func (c Config) DispatcherConfig() dispatch.Config {
	return dispatch.Config{
		Concurrency: c.Dispatch.Concurrency,
		QueueSize:   c.Dispatch.QueueSize,
		Retry: dispatch.RetryPolicy{
			MaxRetries:    c.Dispatch.MaxRetries,
			BackoffBase:   c.Dispatch.BackoffBase.Duration,
			BackoffJitter: c.Dispatch.BackoffJitter.Duration,
			MaxBackoff:    c.Dispatch.MaxBackoff.Duration,
		},
	}
}

// ResolveLimits returns the RPM/TPM of the configured model: the catalogue
// entry with explicit overrides applied. Without a catalogue both overrides
// must be set.
func (c Config) ResolveLimits() (ratelimit.Limit, error) {
	var limit ratelimit.Limit
	if c.Limits.RPM <= 0 || c.Limits.TPM <= 0 {
		if c.Limits.File == "" {
			return limit, fmt.Errorf("%w: limits.file or both limits.rpm and limits.tpm are required", ErrInvalid)
		}
		catalogue, err := ratelimit.LoadLimits(c.Limits.File)
		if err != nil {
			return limit, err
		}
		limit, err = catalogue.Lookup(strings.ToLower(c.Model.Provider), c.Model.Name)
		if err != nil {
			return limit, err
		}
	}
	if c.Limits.RPM > 0 {
		limit.RequestsPerMinute = c.Limits.RPM
	}
	if c.Limits.TPM > 0 {
		limit.TokensPerMinute = c.Limits.TPM
	}
	return limit, nil
}

// TrackerConfig returns the quota tracker settings for limit.
func (c Config) TrackerConfig(limit ratelimit.Limit) ratelimit.Config {
	cfg := ratelimit.DefaultConfig(limit.RequestsPerMinute, limit.TokensPerMinute)
	cfg.Window = c.Quota.Window.Duration
	cfg.DefaultCompletionTokens = c.Quota.DefaultCompletionTokens
	cfg.ProceedJitterMin = c.Quota.ProceedJitterMin.Duration
	cfg.ProceedJitterMax = c.Quota.ProceedJitterMax.Duration
	cfg.WaitJitterMin = c.Quota.WaitJitterMin.Duration
	cfg.WaitJitterMax = c.Quota.WaitJitterMax.Duration
	return cfg
}

// Namespace returns the result store namespace.
func (c Config) Namespace() store.Namespace {
	return store.Namespace{Database: c.Store.Database, Collection: c.Store.Collection}
}

// Columns returns the narrative input columns.
func (c Config) Columns() source.Columns {
	return source.Columns{ID: c.Run.IDColumn, Text: c.Run.TextColumn}
}

// LoggerConfig returns the process logger settings.
func (c Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(strings.ToLower(c.Logging.Level)),
		Pretty: c.Logging.Pretty,
		Output: os.Stderr,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
