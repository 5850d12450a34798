package pipeline

import (
	"fmt"
	"sync"

	"ppaflow/internal/core"
)

// ResultTree maps stage → coordinate → StageResult.
//
// It is append-only while a run is in progress and read-only once returned.
// Accessors return copies, so callers cannot mutate it.
type ResultTree struct {
	mu     sync.RWMutex
	stages map[core.Stage]map[core.Coordinate]core.StageResult
	states map[core.Stage]StageState
}

func newResultTree() *ResultTree {
	return &ResultTree{stages: make(map[core.Stage]map[core.Coordinate]core.StageResult)}
}

// record adds the results of a stage. A stage may be recorded once, and an
// empty mapping is recorded as a present-but-empty stage.
func (t *ResultTree) record(stage core.Stage, results map[core.Coordinate]core.StageResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.stages[stage]; ok {
		return fmt.Errorf("stage %s already recorded", stage)
	}
	m := make(map[core.Coordinate]core.StageResult, len(results))
	for c, r := range results {
		if r.Stage != stage || r.Coordinate != c {
			return fmt.Errorf("result for %s %s filed under %s %s", r.Stage, r.Coordinate, stage, c)
		}
		m[c] = r
	}
	t.stages[stage] = m
	return nil
}

func (t *ResultTree) setStates(states map[core.Stage]StageState) {
	t.mu.Lock()
	t.states = states
	t.mu.Unlock()
}

// State returns the final lifecycle state of stage.
func (t *ResultTree) State(stage core.Stage) StageState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.states[stage]; ok {
		return s
	}
	return StagePending
}

// Has reports whether stage ran (possibly producing an empty mapping).
func (t *ResultTree) Has(stage core.Stage) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.stages[stage]
	return ok
}

// Stage returns a copy of the results of stage; nil if it never ran.
func (t *ResultTree) Stage(stage core.Stage) map[core.Coordinate]core.StageResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.stages[stage]
	if !ok {
		return nil
	}
	out := make(map[core.Coordinate]core.StageResult, len(m))
	for c, r := range m {
		out[c] = r
	}
	return out
}

func (t *ResultTree) Result(stage core.Stage, c core.Coordinate) (core.StageResult, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.stages[stage][c]
	return r, ok
}

// Stages lists the stages present, in pipeline order.
func (t *ResultTree) Stages() []core.Stage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []core.Stage
	for _, s := range core.Stages {
		if _, ok := t.stages[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Results lists every result of stage sorted by coordinate.
func (t *ResultTree) Results(stage core.Stage) []core.StageResult {
	m := t.Stage(stage)
	coords := make([]core.Coordinate, 0, len(m))
	for c := range m {
		coords = append(coords, c)
	}
	core.SortCoordinates(coords)
	out := make([]core.StageResult, 0, len(coords))
	for _, c := range coords {
		out = append(out, m[c])
	}
	return out
}

// StageCounts tallies the outcomes of one stage.
type StageCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cached    int `json:"cached"`
}

func (t *ResultTree) Counts(stage core.Stage) StageCounts {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var c StageCounts
	for _, r := range t.stages[stage] {
		if r.OK() {
			c.Succeeded++
			if r.FromCache {
				c.Cached++
			}
		} else {
			c.Failed++
		}
	}
	return c
}

// Failures lists every failed result in pipeline, then coordinate, order.
func (t *ResultTree) Failures() []core.StageResult {
	var out []core.StageResult
	for _, s := range t.Stages() {
		for _, r := range t.Results(s) {
			if !r.OK() {
				out = append(out, r)
			}
		}
	}
	return out
}

// OK reports whether every recorded coordinate succeeded.
func (t *ResultTree) OK() bool { return len(t.Failures()) == 0 }
