package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/narrative-blueprint/pkg/endpoint"
)

// Task is one unit of work: a single remote call whose response is stored
// under ID. Tasks are immutable once handed to Run.
type Task struct {
	ID      string
	Payload endpoint.Payload

	// EstimatedCost is the expected prompt size in tokens. When <= 0 the
	// endpoint estimates it as the task starts running.
	EstimatedCost int
}

// State is the position of a task in the retry state machine.
type State int

const (
	StatePending State = iota
	StateRunning
	StateThrottled
	StateBackoff
	StateSucceeded
	StateAbandoned
	StateExhausted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateThrottled:
		return "throttled"
	case StateBackoff:
		return "backoff"
	case StateSucceeded:
		return "succeeded"
	case StateAbandoned:
		return "abandoned"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateAbandoned || s == StateExhausted
}

// RetryState tracks one task while it is inside the dispatcher.
type RetryState struct {
	Task     Task
	Attempts int
	Retries  int
	State    State
	LastErr  error
}

// Outcome is the terminal result of a task.
type Outcome struct {
	TaskID   string
	State    State
	Attempts int
	Err      error
	Elapsed  time.Duration
}

// Cancelled reports whether the task was abandoned because the run was cancelled.
func (o Outcome) Cancelled() bool {
	return o.State == StateAbandoned && errors.Is(o.Err, ErrCancelled)
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	RunID     string
	Total     int
	Succeeded int

	// Failed counts tasks abandoned for a non-throttle error.
	Failed int

	// Exhausted counts tasks that ran out of retries.
	Exhausted int

	// Cancelled counts tasks abandoned because the run was cancelled.
	Cancelled int

	Attempts int
	Elapsed  time.Duration
}

func (s *Summary) add(o Outcome) {
	s.Attempts += o.Attempts
	switch {
	case o.State == StateSucceeded:
		s.Succeeded++
	case o.State == StateExhausted:
		s.Exhausted++
	case o.Cancelled():
		s.Cancelled++
	default:
		s.Failed++
	}
}

// Completed returns the number of tasks that reached a terminal state.
func (s *Summary) Completed() int {
	return s.Succeeded + s.Failed + s.Exhausted + s.Cancelled
}
