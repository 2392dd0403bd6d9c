package model

import "fmt"

const (
	StateQueued          = "queued"
	StateInProgress      = "in_progress"
	StateCompleted       = "completed"
	StateFailedExhausted = "failed_exhausted"
	StateFailedNoData    = "failed_no_data"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		StateQueued: true,
	},
	StateQueued: {
		StateInProgress: true,
	},
	StateInProgress: {
		StateInProgress:      true, // next attempt
		StateCompleted:       true,
		StateFailedExhausted: true,
		StateFailedNoData:    true,
	},
	StateCompleted: {
		StateQueued: true, // artifact missing on resume
	},
	StateFailedExhausted: {
		StateQueued: true,
	},
	StateFailedNoData: {
		StateQueued: true,
	},
}

// TaskState tracks one task through a run.
type TaskState struct {
	Key      string
	State    string
	Attempts int
	Reason   string
}

func IsKnownState(state string) bool {
	_, ok := allowedTransitions[state]
	return ok
}

func IsTerminalState(state string) bool {
	switch state {
	case StateCompleted, StateFailedExhausted, StateFailedNoData:
		return true
	}
	return false
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// TransitionTask moves ts to the given state. Entering in_progress counts an attempt.
func TransitionTask(ts *TaskState, to string, reason string) error {
	from := ts.State
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid task state transition: %q -> %q (task=%s)", from, to, ts.Key)
	}
	if to == StateInProgress {
		ts.Attempts++
	}
	if to == StateQueued {
		ts.Attempts = 0
	}
	ts.State = to
	ts.Reason = reason
	return nil
}

// TerminalStateFor maps an outcome to the state it leaves the task in.
func TerminalStateFor(o TaskOutcome) string {
	switch {
	case o.Success:
		return StateCompleted
	case o.Category == CategoryNoData:
		return StateFailedNoData
	default:
		return StateFailedExhausted
	}
}
