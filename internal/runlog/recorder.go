package runlog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ppaflow/internal/core"
	"ppaflow/internal/pipeline"
)

// Recorder writes the records of one invocation.
type Recorder struct {
	Store *Store

	// Now stamps runs. Defaults to time.Now.
	Now func() time.Time
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Recorder) NewRunID() string { return uuid.NewString() }

// StartRun persists a running Run linked to the most recent earlier run.
func (r *Recorder) StartRun(command, studyHash string, mode Mode) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	run := Run{
		RunID:     r.NewRunID(),
		StudyHash: studyHash,
		Command:   command,
		Mode:      mode,
		StartTime: r.now(),
		Status:    StatusRunning,
	}
	if prev, ok, err := r.Store.LatestRun(); err != nil {
		return Run{}, fmt.Errorf("finding previous run: %w", err)
	} else if ok {
		id := prev.RunID
		run.PreviousRunID = &id
	}
	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// FinishRun stamps the end time and final status.
func (r *Recorder) FinishRun(run Run, status Status) (Run, error) {
	end := r.now()
	run.EndTime = &end
	run.Status = status
	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// RecordSummary writes summary.json for tree.
func (r *Recorder) RecordSummary(runID string, tree *pipeline.ResultTree) error {
	return r.Store.SaveSummary(NewSummary(runID, tree))
}

// RecordFailure classifies err and writes failure.json.
func (r *Recorder) RecordFailure(runID string, err error) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	f, cerr := classify(err)
	if cerr != nil {
		return cerr
	}
	return r.Store.SaveFailure(runID, f)
}

// NewSummary tallies every stage of tree and lists its failures.
func NewSummary(runID string, tree *pipeline.ResultTree) Summary {
	s := Summary{RunID: runID, Stages: map[string]StageSummary{}, Failures: []CoordinateFailure{}}
	if tree == nil {
		return s
	}
	for _, stage := range core.Stages {
		c := tree.Counts(stage)
		s.Stages[string(stage)] = StageSummary{
			State:     string(tree.State(stage)),
			Succeeded: c.Succeeded,
			Failed:    c.Failed,
			Cached:    c.Cached,
		}
	}
	for _, f := range tree.Failures() {
		kind := "unknown"
		if k := f.ErrorKind(); k != nil {
			kind = k.Error()
		}
		s.Failures = append(s.Failures, CoordinateFailure{
			Stage:      string(f.Stage),
			Coordinate: f.Coordinate.String(),
			Kind:       kind,
			Message:    f.Err.Error(),
		})
	}
	return s
}
