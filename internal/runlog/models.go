// Package runlog persists one record set per CLI invocation under
// <output_dir>/runs/<run-id>/: run.json, summary.json and, when the run did
// not fully succeed, failure.json.
package runlog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	ModeClean       Mode = "clean"
	ModeIncremental Mode = "incremental"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is the metadata of one invocation.
type Run struct {
	RunID         string     `json:"run_id"`
	StudyHash     string     `json:"study_hash"`
	Command       string     `json:"command"`
	Mode          Mode       `json:"mode"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time"`
	Status        Status     `json:"status"`
	PreviousRunID *string    `json:"previous_run_id"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.StudyHash) == "" {
		errs = append(errs, errors.New("study_hash is required"))
	}
	if strings.TrimSpace(r.Command) == "" {
		errs = append(errs, errors.New("command is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Mode {
	case ModeClean, ModeIncremental:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", r.Mode))
	}
	switch r.Status {
	case StatusRunning, StatusSucceeded, StatusFailed:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		errs = append(errs, errors.New("end_time precedes start_time"))
	}
	return errors.Join(errs...)
}

// StageSummary tallies one stage.
type StageSummary struct {
	State     string `json:"state"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Cached    int    `json:"cached"`
}

// CoordinateFailure is one failed coordinate in a summary.
type CoordinateFailure struct {
	Stage      string `json:"stage"`
	Coordinate string `json:"coordinate"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

// Summary is the per-stage outcome of a run.
type Summary struct {
	RunID    string                  `json:"run_id"`
	Stages   map[string]StageSummary `json:"stages"`
	Failures []CoordinateFailure     `json:"failures"`
}

func (s Summary) Validate() error {
	var errs []error
	if strings.TrimSpace(s.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if s.Stages == nil {
		errs = append(errs, errors.New("stages must be an object (not null)"))
	}
	if s.Failures == nil {
		errs = append(errs, errors.New("failures must be an array (not null)"))
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	FailureClassConfig        FailureClass = "config"
	FailureClassVerify        FailureClass = "verify"
	FailureClassExecution     FailureClass = "execution"
	FailureClassCacheConflict FailureClass = "cache-conflict"
	FailureClassSystem        FailureClass = "system"
)

// Failure is the recorded reason a run did not fully succeed.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	Stage        *string      `json:"stage,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassConfig, FailureClassVerify, FailureClassExecution, FailureClassCacheConflict, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.Stage != nil && strings.TrimSpace(*f.Stage) == "" {
		errs = append(errs, errors.New("stage must not be empty when provided"))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	return errors.Join(errs...)
}
