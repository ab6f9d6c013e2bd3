// Package progress implements a thread-safe progress view for a dispatch run.
//
// A Reporter holds the completed/total counters, a free-form description
// and a small set of named metrics. It is purely observational: nothing in
// the dispatch path reads it back to make decisions.
package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Snapshot is a copy of the reporter state.
type Snapshot struct {
	Label       string
	Description string
	Completed   int
	Total       int
	Metrics     map[string]string
	MetricOrder []string
	Started     time.Time
	Elapsed     time.Duration
}

// Percent returns completion in [0, 100].
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return 100 * float64(s.Completed) / float64(s.Total)
}

// Reporter is a mutex-guarded progress counter.
type Reporter struct {
	mu          sync.Mutex
	label       string
	description string
	completed   int
	total       int
	metrics     map[string]string
	order       []string
	started     time.Time
	now         func() time.Time
}

// NewReporter creates a reporter for total tasks. label prefixes every
// description, typically the model name.
func NewReporter(label string, total int) *Reporter {
	return &Reporter{
		label:   label,
		total:   total,
		metrics: make(map[string]string),
		started: time.Now(),
		now:     time.Now,
	}
}

// SetDescription replaces the status text.
func (r *Reporter) SetDescription(desc string) {
	r.mu.Lock()
	r.description = desc
	r.mu.Unlock()
}

// SetMetric sets a named value shown after the bar.
func (r *Reporter) SetMetric(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[name]; !ok {
		r.order = append(r.order, name)
	}
	r.metrics[name] = fmt.Sprint(value)
}

// Increment marks one more task terminal.
func (r *Reporter) Increment() {
	r.mu.Lock()
	r.completed++
	r.mu.Unlock()
}

// SetTotal changes the expected task count.
func (r *Reporter) SetTotal(total int) {
	r.mu.Lock()
	r.total = total
	r.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics := make(map[string]string, len(r.metrics))
	for k, v := range r.metrics {
		metrics[k] = v
	}
	return Snapshot{
		Label:       r.label,
		Description: r.description,
		Completed:   r.completed,
		Total:       r.total,
		Metrics:     metrics,
		MetricOrder: append([]string(nil), r.order...),
		Started:     r.started,
		Elapsed:     r.now().Sub(r.started),
	}
}

// Render formats the state as a single line no wider than width runes.
// width <= 0 means unlimited.
//
//	gpt-4o-mini - [RUNNING] prompt #3 |#####-----| 5/10 50% 12s [tokens/60s=4200]
func (r *Reporter) Render(width int) string {
	snap := r.Snapshot()
	order := snap.MetricOrder

	var b strings.Builder
	if snap.Label != "" {
		b.WriteString(snap.Label)
		if snap.Description != "" {
			b.WriteString(" - ")
		}
	}
	b.WriteString(snap.Description)

	const barWidth = 20
	filled := 0
	if snap.Total > 0 {
		filled = barWidth * snap.Completed / snap.Total
		if filled > barWidth {
			filled = barWidth
		}
	}
	fmt.Fprintf(&b, " |%s%s| %d/%d %3.0f%% %s",
		strings.Repeat("#", filled),
		strings.Repeat("-", barWidth-filled),
		snap.Completed, snap.Total, snap.Percent(),
		snap.Elapsed.Truncate(time.Second))

	if len(order) > 0 {
		parts := make([]string, 0, len(order))
		for _, name := range order {
			parts = append(parts, name+"="+snap.Metrics[name])
		}
		b.WriteString(" [" + strings.Join(parts, ", ") + "]")
	}

	line := b.String()
	if width > 0 {
		runes := []rune(line)
		if len(runes) > width {
			line = string(runes[:width])
		}
	}
	return line
}
