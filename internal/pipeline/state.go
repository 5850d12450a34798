package pipeline

import (
	"fmt"

	"ppaflow/internal/core"
)

// StageState is the lifecycle state of one pipeline stage within a run.
type StageState string

const (
	StagePending   StageState = "PENDING"
	StageRunning   StageState = "RUNNING"
	StageCompleted StageState = "COMPLETED"
	StageFailed    StageState = "FAILED"
	StageSkipped   StageState = "SKIPPED"
)

// IsTerminal reports whether s is final.
func IsTerminal(s StageState) bool {
	switch s {
	case StageCompleted, StageFailed, StageSkipped:
		return true
	default:
		return false
	}
}

// stageMachine tracks the state of every stage of one run. It is owned by a
// single orchestrator goroutine.
type stageMachine map[core.Stage]StageState

func newStageMachine() stageMachine {
	m := make(stageMachine, len(core.Stages))
	for _, s := range core.Stages {
		m[s] = StagePending
	}
	return m
}

// transition moves stage from one state to another, rejecting anything the
// lifecycle does not allow.
func (m stageMachine) transition(stage core.Stage, from, to StageState) error {
	cur, ok := m[stage]
	if !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %s: expected %s, got %s", stage, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %s: %s -> %s", stage, from, to)
	}
	m[stage] = to
	return nil
}

func isAllowedTransition(from, to StageState) bool {
	switch from {
	case StagePending:
		return to == StageRunning || to == StageSkipped
	case StageRunning:
		return to == StageCompleted || to == StageFailed
	default:
		return false
	}
}

// skipAfter marks every pending stage later than stage as skipped.
func (m stageMachine) skipAfter(stage core.Stage) {
	for _, s := range core.Stages {
		if s.Order() > stage.Order() && m[s] == StagePending {
			m[s] = StageSkipped
		}
	}
}

func (m stageMachine) snapshot() map[core.Stage]StageState {
	out := make(map[core.Stage]StageState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
