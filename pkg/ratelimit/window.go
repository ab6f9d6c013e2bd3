// Package ratelimit implements client-side RPM/TPM quota tracking for a
// remote inference service.
//
// A Tracker keeps two sliding windows of recent usage, one holding request
// timestamps and one holding token usage per completed call. Before each
// attempt the dispatcher asks the tracker whether issuing one more request
// with an estimated prompt size would exceed either quota, and if so how
// long to wait until the oldest event ages out.
package ratelimit

import "time"

// DefaultWindow is the span of the sliding usage window.
const DefaultWindow = 60 * time.Second

// DefaultCompletionTokens is the completion buffer assumed when no usage
// has been observed within the window yet.
const DefaultCompletionTokens = 1000

// UsageEvent is one entry in a sliding window.
// Request events carry Requests=1 and no tokens; token events carry the
// prompt and completion counts reported by the endpoint.
type UsageEvent struct {
	At               time.Time `json:"at"`
	Requests         int       `json:"requests,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
}

// Tokens returns prompt plus completion tokens.
func (e UsageEvent) Tokens() int {
	return e.PromptTokens + e.CompletionTokens
}

// window is an append-only, timestamp-ordered event log.
// Not safe for concurrent use; the Tracker guards it.
type window struct {
	span   time.Duration
	events []UsageEvent
}

func newWindow(span time.Duration) *window {
	return &window{span: span}
}

func (w *window) add(e UsageEvent) {
	w.events = append(w.events, e)
}

// prune drops every event with now - At >= span.
func (w *window) prune(now time.Time) {
	i := 0
	for i < len(w.events) && now.Sub(w.events[i].At) >= w.span {
		i++
	}
	if i == 0 {
		return
	}
	// Copy so the backing array does not grow without bound on long runs.
	w.events = append(w.events[:0:0], w.events[i:]...)
}

func (w *window) len() int {
	return len(w.events)
}

// oldest returns the timestamp of the first event, if any.
func (w *window) oldest() (time.Time, bool) {
	if len(w.events) == 0 {
		return time.Time{}, false
	}
	return w.events[0].At, true
}

func (w *window) tokens() (prompt, completion int) {
	for _, e := range w.events {
		prompt += e.PromptTokens
		completion += e.CompletionTokens
	}
	return prompt, completion
}

// averageCompletion returns the mean completion tokens per event, or def
// when the window is empty.
func (w *window) averageCompletion(def int) int {
	if len(w.events) == 0 {
		return def
	}
	_, completion := w.tokens()
	return completion / len(w.events)
}

// untilExpiry is the time until the oldest event leaves the window.
// An empty window yields fallback.
func (w *window) untilExpiry(now time.Time, fallback time.Duration) time.Duration {
	oldest, ok := w.oldest()
	if !ok {
		return fallback
	}
	return w.span - now.Sub(oldest)
}
