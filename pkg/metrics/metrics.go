// Package metrics provides the Prometheus registry reference and the
// optional HTTP endpoint for narrative-blueprint.
// All metrics are defined in their respective packages (ratelimit, dispatch, store)
// to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by narrative-blueprint.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer exposes the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// NewHandler returns a mux serving /metrics and /health.
func NewHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// Serve exposes NewHandler on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Quota Metrics (pkg/ratelimit):
//   - blueprint_quota_requests_in_window (Gauge): Requests issued within the sliding window
//   - blueprint_quota_tokens_in_window (Gauge): Prompt plus completion tokens within the window
//   - blueprint_quota_waits_total{reason} (Counter): Quota waits by dimension (rpm, tpm, rpm+tpm)
//   - blueprint_quota_wait_seconds (Histogram): Jittered duration of each quota wait
//
// Dispatch Metrics (pkg/dispatch):
//   - blueprint_dispatch_tasks_total{outcome} (Counter): Terminal tasks (succeeded, failed, exhausted, cancelled)
//   - blueprint_dispatch_attempts_total{result} (Counter): Endpoint calls (success, throttled, failed)
//   - blueprint_dispatch_in_flight (Gauge): Endpoint calls currently in flight
//   - blueprint_dispatch_backoff_seconds (Histogram): Backoff after throttled attempts
//   - blueprint_dispatch_task_duration_seconds (Histogram): Task start to terminal state
//
// Store Metrics (pkg/store):
//   - blueprint_store_writes_total{backend} (Counter): Stored result documents
//   - blueprint_store_errors_total{operation} (Counter): Store errors by operation
//   - blueprint_store_bytes_total{backend} (Counter): Bytes of result documents written
//
// Example Prometheus Queries:
//
//   # Throttle Rate
//   rate(blueprint_dispatch_attempts_total{result="throttled"}[5m]) /
//   rate(blueprint_dispatch_attempts_total[5m])
//
//   # TPM Headroom
//   blueprint_quota_tokens_in_window
//
//   # Time Spent Waiting On Quota
//   rate(blueprint_quota_wait_seconds_sum[5m])
//
//   # P95 Task Duration
//   histogram_quantile(0.95, rate(blueprint_dispatch_task_duration_seconds_bucket[5m]))
