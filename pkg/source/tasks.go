package source

import (
	"context"
	"fmt"

	"github.com/Sternrassler/narrative-blueprint/pkg/dispatch"
	"github.com/Sternrassler/narrative-blueprint/pkg/endpoint"
)

// CompletedLister reports the IDs already persisted by a sink.
// *store.Manager and *store.MemoryStore satisfy it.
type CompletedLister interface {
	CompletedIDs(ctx context.Context) (map[string]struct{}, error)
}

// Estimator sizes a payload in tokens. Every endpoint satisfies it.
type Estimator interface {
	EstimateTokens(p endpoint.Payload) int
}

// FilterStats counts the records dropped by Filter.
type FilterStats struct {
	Completed  int
	Duplicates int
}

// Filter drops records whose ID is in completed and repeated IDs after the
// first occurrence. Order is preserved.
func Filter(records []Record, completed map[string]struct{}) ([]Record, FilterStats) {
	var stats FilterStats
	seen := make(map[string]struct{}, len(records))
	kept := make([]Record, 0, len(records))

	for _, rec := range records {
		if _, done := completed[rec.ID]; done {
			stats.Completed++
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			stats.Duplicates++
			continue
		}
		seen[rec.ID] = struct{}{}
		kept = append(kept, rec)
	}
	return kept, stats
}

// Sample keeps the first n records. n <= 0 keeps all of them.
func Sample(records []Record, n int) []Record {
	if n <= 0 || n >= len(records) {
		return records
	}
	return records[:n]
}

// BuildTasks renders one task per record. estimator may be nil, in which
// case the dispatcher estimates costs when tasks start.
func BuildTasks(records []Record, tmpl *Template, estimator Estimator) ([]dispatch.Task, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("build tasks: nil template")
	}

	tasks := make([]dispatch.Task, 0, len(records))
	for _, rec := range records {
		payload, err := tmpl.Payload(rec.Text)
		if err != nil {
			return nil, fmt.Errorf("build task %s: %w", rec.ID, err)
		}
		task := dispatch.Task{ID: rec.ID, Payload: payload}
		if estimator != nil {
			task.EstimatedCost = estimator.EstimateTokens(payload)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Options configures Prepare.
type Options struct {
	NarrativePath string
	Columns       Columns
	Template      *Template

	// SampleSize truncates the pending list. <= 0 keeps everything.
	SampleSize int

	// Completed skips already-stored IDs. Optional.
	Completed CompletedLister

	// Estimator pre-computes task costs. Optional.
	Estimator Estimator
}

// Stats describes how Prepare arrived at its task list.
type Stats struct {
	Loaded     int
	Skipped    int
	Duplicates int
	Selected   int
}

// Prepare loads narratives, drops completed and duplicate IDs, samples
// and builds the task list.
func Prepare(ctx context.Context, opts Options) ([]dispatch.Task, Stats, error) {
	var stats Stats

	records, err := Load(opts.NarrativePath, opts.Columns)
	if err != nil {
		return nil, stats, err
	}
	stats.Loaded = len(records)

	completed := map[string]struct{}{}
	if opts.Completed != nil {
		completed, err = opts.Completed.CompletedIDs(ctx)
		if err != nil {
			return nil, stats, fmt.Errorf("list completed ids: %w", err)
		}
	}

	pending, fs := Filter(records, completed)
	stats.Skipped = fs.Completed
	stats.Duplicates = fs.Duplicates

	pending = Sample(pending, opts.SampleSize)
	stats.Selected = len(pending)

	tasks, err := BuildTasks(pending, opts.Template, opts.Estimator)
	if err != nil {
		return nil, stats, err
	}
	return tasks, stats, nil
}
