package model

import "testing"

func TestCanTransition_AllowsExpectedPaths(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{"", StateQueued},
		{StateQueued, StateInProgress},
		{StateInProgress, StateInProgress},
		{StateInProgress, StateCompleted},
		{StateInProgress, StateFailedExhausted},
		{StateInProgress, StateFailedNoData},
		{StateCompleted, StateQueued},
		{StateFailedExhausted, StateQueued},
		{StateFailedNoData, StateQueued},
	}

	for _, tc := range cases {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanTransition_RejectsInvalidPaths(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{StateQueued, StateCompleted},
		{StateCompleted, StateInProgress},
		{StateFailedNoData, StateInProgress},
		{"", StateInProgress},
		{"not_a_state", StateQueued},
	}

	for _, tc := range cases {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be rejected", tc.from, tc.to)
		}
	}
}

func TestTransitionTask_CountsAttemptsAndBlocksIllegal(t *testing.T) {
	ts := TaskState{Key: TaskKey("C001", "rbt")}

	for _, to := range []string{StateQueued, StateInProgress, StateInProgress, StateFailedExhausted} {
		if err := TransitionTask(&ts, to, ""); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if ts.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", ts.Attempts)
	}
	if err := TransitionTask(&ts, StateCompleted, ""); err == nil {
		t.Fatalf("expected illegal transition error")
	}
	if err := TransitionTask(&ts, StateQueued, "resume"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if ts.Attempts != 0 || ts.Reason != "resume" {
		t.Fatalf("unexpected state after requeue: %+v", ts)
	}
}

func TestTerminalStateFor(t *testing.T) {
	if got := TerminalStateFor(TaskOutcome{Success: true}); got != StateCompleted {
		t.Fatalf("success -> %s", got)
	}
	if got := TerminalStateFor(TaskOutcome{Category: CategoryNoData}); got != StateFailedNoData {
		t.Fatalf("no_data -> %s", got)
	}
	if got := TerminalStateFor(TaskOutcome{Category: CategoryNetwork}); got != StateFailedExhausted {
		t.Fatalf("network -> %s", got)
	}
}

func TestTaskKey(t *testing.T) {
	task := Task{LocationCode: "TX-01", RoleID: "bcba"}
	if task.Key() != "TX-01:bcba" {
		t.Fatalf("unexpected key %q", task.Key())
	}
}
